package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/middleware"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/policy"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/ratelimit"
)

// Routes bundles everything needed to mount the versioned API.
type Routes struct {
	Auth         *AuthHandler
	Users        *UserHandler
	Appointments *AppointmentHandler
	Availability *AvailabilityHandler
	Messages     *MessageHandler
	Metrics      *MetricsHandler

	Tokens      middleware.TokenValidator
	Audit       middleware.AuditStore
	AuthLimiter ratelimit.Limiter
	APILimiter  ratelimit.Limiter
	Logger      *zap.Logger
}

// Register mounts every endpoint under group (normally /api/v1).
func (r Routes) Register(group *gin.RouterGroup) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	auth := group.Group("/auth", middleware.RateLimit(r.AuthLimiter, "auth", log))
	auth.POST("/register", r.Auth.Register)
	auth.POST("/login", r.Auth.Login)
	auth.POST("/refresh", r.Auth.Refresh)
	auth.POST("/forgot-password", r.Auth.ForgotPassword)
	auth.POST("/reset-password", r.Auth.ResetPassword)

	secured := group.Group("", middleware.JWT(r.Tokens), middleware.RateLimit(r.APILimiter, "api", log))
	secured.POST("/auth/logout", r.Auth.Logout)
	secured.POST("/auth/change-password", r.Auth.ChangePassword)

	secured.GET("/users/me", r.Users.Me)
	secured.PUT("/users/me", r.Users.UpdateMe)
	secured.POST("/users/me/avatar", r.Users.UploadAvatar)
	secured.GET("/teachers", middleware.Policy(policy.ListTeachers), r.Users.Teachers)

	appts := secured.Group("/appointments")
	appts.POST("", middleware.Policy(policy.BookAppointment), r.Appointments.Book)
	appts.GET("", middleware.Policy(policy.ListAppointments), r.Appointments.List)
	appts.GET("/export", middleware.Policy(policy.ExportAppointments), r.Appointments.Export)
	appts.GET("/:id", middleware.Policy(policy.ViewAppointment), r.Appointments.Get)
	appts.PUT("/:id", middleware.Policy(policy.UpdateOwnAppointment), r.Appointments.Update)
	appts.PUT("/:id/status", middleware.Policy(policy.UpdateAppointmentStatus), r.Appointments.UpdateStatus)
	appts.DELETE("/:id", middleware.Policy(policy.DeleteAppointment),
		middleware.Audit(r.Audit, models.AuditActionAppointmentDelete, models.AuditResourceAppointment), r.Appointments.Delete)

	slots := secured.Group("/availability")
	slots.POST("", middleware.Policy(policy.CreateAvailability), r.Availability.Create)
	slots.GET("", middleware.Policy(policy.ListOwnAvailability), r.Availability.ListOwn)
	slots.GET("/slots", middleware.Policy(policy.ViewSlots), r.Availability.Slots)
	slots.PUT("/:id", middleware.Policy(policy.UpdateAvailability), r.Availability.Update)
	slots.DELETE("/:id", middleware.Policy(policy.DeleteAvailability), r.Availability.Delete)

	msgs := secured.Group("/messages")
	msgs.POST("", middleware.Policy(policy.SendMessage), r.Messages.Send)
	msgs.GET("", middleware.Policy(policy.ReadMessages), r.Messages.List)
	msgs.GET("/unread/count", middleware.Policy(policy.ReadMessages), r.Messages.UnreadCount)
	msgs.GET("/conversations", middleware.Policy(policy.ViewConversation), r.Messages.Conversations)
	msgs.GET("/conversations/:otherUserId", middleware.Policy(policy.ViewConversation), r.Messages.ConversationMessages)
	msgs.PUT("/:id/read", middleware.Policy(policy.ReadMessages), r.Messages.MarkRead)
	msgs.DELETE("/:id", middleware.Policy(policy.DeleteMessage), r.Messages.Delete)

	admin := secured.Group("/admin")
	users := admin.Group("/users", middleware.Policy(policy.ManageUsers))
	users.GET("", r.Users.List)
	users.PUT("/:id", r.Users.Update)
	users.PUT("/:id/approve", r.Users.Approve)
	users.DELETE("/:id", r.Users.Delete)
	admin.GET("/metrics", middleware.Policy(policy.ViewMetrics), r.Metrics.Snapshot)
}
