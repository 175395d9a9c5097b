package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/policy"
	appErrors "github.com/littledevelop/student-teacher-appointment-backend/pkg/errors"
	"github.com/littledevelop/student-teacher-appointment-backend/pkg/storage"
)

const teacherListTTL = 10 * time.Minute

var avatarExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	ListApprovedTeachers(ctx context.Context, search string) ([]models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	SetProfilePicture(ctx context.Context, id, key string) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ProfileFields are the self-editable profile attributes. Nil leaves a field
// unchanged and an empty string clears it.
type ProfileFields struct {
	Name           *string `json:"name" validate:"omitempty,min=2,max=120"`
	Department     *string `json:"department" validate:"omitempty,max=120"`
	Subject        *string `json:"subject" validate:"omitempty,max=120"`
	Specialization *string `json:"specialization" validate:"omitempty,max=120"`
	OfficeHours    *string `json:"office_hours" validate:"omitempty,max=255"`
	Bio            *string `json:"bio" validate:"omitempty,max=2000"`
	StudentNumber  *string `json:"student_id" validate:"omitempty,max=64"`
	Year           *string `json:"year" validate:"omitempty,max=32"`
	Course         *string `json:"course" validate:"omitempty,max=120"`
}

// UpdateUserRequest is an admin edit of any account.
type UpdateUserRequest struct {
	ProfileFields
	Role     *string `json:"role" validate:"omitempty,oneof=student teacher admin"`
	Approved *bool   `json:"approved"`
}

// UserServiceConfig tunes avatar handling.
type UserServiceConfig struct {
	AvatarURLTTL   time.Duration
	MaxAvatarBytes int64
}

// UserService handles profiles, the teacher directory and admin account
// management.
type UserService struct {
	repo      userRepository
	cache     *CacheService
	store     storage.ObjectStore
	notify    notifier
	events    eventRecorder
	validator *validator.Validate
	logger    *zap.Logger
	config    UserServiceConfig
}

// NewUserService creates an instance of UserService. A nil store disables
// avatar uploads.
func NewUserService(repo userRepository, cache *CacheService, store storage.ObjectStore, notify notifier, events eventRecorder, validate *validator.Validate, logger *zap.Logger, config UserServiceConfig) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if notify == nil {
		notify = NewNotificationService(nil, logger)
	}
	if events == nil {
		events = nopRecorder{}
	}
	if config.AvatarURLTTL <= 0 {
		config.AvatarURLTTL = time.Hour
	}
	if config.MaxAvatarBytes <= 0 {
		config.MaxAvatarBytes = 5 << 20
	}
	return &UserService{repo: repo, cache: cache, store: store, notify: notify, events: events, validator: validate, logger: logger, config: config}
}

// GetMe returns the caller's own account.
func (s *UserService) GetMe(ctx context.Context, actor models.Actor) (*models.User, error) {
	user, err := s.load(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	s.attachAvatar(ctx, user)
	return user, nil
}

// UpdateMe applies the caller's profile edits.
func (s *UserService) UpdateMe(ctx context.Context, actor models.Actor, req ProfileFields) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid profile payload")
	}
	user, err := s.load(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	applyProfile(user, req)
	if err := s.save(ctx, user); err != nil {
		return nil, err
	}
	s.attachAvatar(ctx, user)
	return user, nil
}

// UploadAvatar stores a new profile picture and replaces the previous one.
func (s *UserService) UploadAvatar(ctx context.Context, actor models.Actor, r io.Reader, size int64, contentType string) (*models.User, error) {
	if s.store == nil {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "avatar storage is disabled")
	}
	ext, ok := avatarExtensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return nil, invalid("avatar must be a jpeg, png, gif or webp image")
	}
	if size <= 0 || size > s.config.MaxAvatarBytes {
		return nil, invalid("avatar file is empty or too large")
	}

	user, err := s.load(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	key := path.Join("avatars", user.ID, uuid.NewString()+ext)
	if err := s.store.Put(ctx, key, r, size, contentType); err != nil {
		return nil, internalError(s.logger, "store_avatar", err, zap.String("user_id", user.ID))
	}
	if err := s.repo.SetProfilePicture(ctx, user.ID, key); err != nil {
		_ = s.store.Delete(ctx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("user")
		}
		return nil, internalError(s.logger, "set_profile_picture", err, zap.String("user_id", user.ID))
	}

	if user.ProfilePicture != nil && *user.ProfilePicture != "" {
		if err := s.store.Delete(ctx, *user.ProfilePicture); err != nil {
			s.logger.Warn("failed to remove previous avatar", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	user.ProfilePicture = &key
	s.attachAvatar(ctx, user)
	s.invalidateTeachers(ctx)
	s.events.RecordEvent("user.avatar_uploaded")
	return user, nil
}

// ListTeachers returns approved teachers, optionally filtered by name,
// subject or department.
func (s *UserService) ListTeachers(ctx context.Context, actor models.Actor, search string) ([]models.User, error) {
	if _, err := authorize(policy.ListTeachers, actor); err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))
	key := teacherListKeyPrefix + url.QueryEscape(search)

	var teachers []models.User
	if hit, _ := s.cache.Get(ctx, key, &teachers); hit {
		return teachers, nil
	}

	teachers, err := s.repo.ListApprovedTeachers(ctx, search)
	if err != nil {
		return nil, internalError(s.logger, "list_teachers", err)
	}
	if teachers == nil {
		teachers = []models.User{}
	}
	// Cached entries carry presigned avatar links, so they must expire
	// before the links do.
	for i := range teachers {
		s.attachAvatar(ctx, &teachers[i])
	}
	_ = s.cache.Set(ctx, key, teachers, s.teacherListTTL())
	return teachers, nil
}

// ListUsers pages through every account. Admin only.
func (s *UserService) ListUsers(ctx context.Context, actor models.Actor, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	if _, err := authorize(policy.ManageUsers, actor); err != nil {
		return nil, nil, err
	}
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, nil, invalid("role must be student, teacher or admin")
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internalError(s.logger, "list_users", err)
	}
	if users == nil {
		users = []models.User{}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return users, models.NewPagination(page, pageSize, total), nil
}

// UpdateUser edits any account. Admin only.
func (s *UserService) UpdateUser(ctx context.Context, actor models.Actor, id string, req UpdateUserRequest, meta models.LoginRequest) (*models.User, error) {
	if _, err := authorize(policy.ManageUsers, actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid update payload")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	oldPayload := auditSnapshot(user)
	applyProfile(user, req.ProfileFields)
	if req.Role != nil {
		user.Role = models.UserRole(*req.Role)
	}
	if req.Approved != nil {
		user.Approved = *req.Approved
	}
	if err := s.save(ctx, user); err != nil {
		return nil, err
	}

	s.audit(ctx, actor.ID, models.AuditActionUserUpdate, user.ID, oldPayload, auditSnapshot(user), meta)
	s.events.RecordEvent("user.updated")
	return user, nil
}

// ApproveUser marks an account approved and tells its owner. Admin only.
func (s *UserService) ApproveUser(ctx context.Context, actor models.Actor, id string, meta models.LoginRequest) (*models.User, error) {
	if _, err := authorize(policy.ManageUsers, actor); err != nil {
		return nil, err
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Approved {
		return user, nil
	}

	oldPayload := auditSnapshot(user)
	user.Approved = true
	if err := s.save(ctx, user); err != nil {
		return nil, err
	}

	s.audit(ctx, actor.ID, models.AuditActionUserApprove, user.ID, oldPayload, auditSnapshot(user), meta)
	s.events.RecordEvent("user.approved")
	s.notify.AccountApproved(ctx, user.Ref())
	return user, nil
}

// DeleteUser removes an account and, through cascades, its appointments and
// slots. Messages are kept. Admin only.
func (s *UserService) DeleteUser(ctx context.Context, actor models.Actor, id string, meta models.LoginRequest) error {
	if _, err := authorize(policy.ManageUsers, actor); err != nil {
		return err
	}
	if id == actor.ID {
		return invalid("admins cannot delete their own account")
	}
	user, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("user")
		}
		return internalError(s.logger, "delete_user", err, zap.String("user_id", id))
	}

	if s.store != nil && user.ProfilePicture != nil && *user.ProfilePicture != "" {
		if err := s.store.Delete(ctx, *user.ProfilePicture); err != nil {
			s.logger.Warn("failed to remove avatar of deleted user", zap.String("user_id", id), zap.Error(err))
		}
	}
	s.invalidateTeachers(ctx)
	s.audit(ctx, actor.ID, models.AuditActionUserDelete, user.ID, auditSnapshot(user), nil, meta)
	s.events.RecordEvent("user.deleted")
	return nil
}

func (s *UserService) load(ctx context.Context, id string) (*models.User, error) {
	if !validID(id) {
		return nil, notFound("user")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("user")
		}
		return nil, internalError(s.logger, "load_user", err, zap.String("user_id", id))
	}
	return user, nil
}

func (s *UserService) save(ctx context.Context, user *models.User) error {
	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("user")
		}
		return internalError(s.logger, "update_user", err, zap.String("user_id", user.ID))
	}
	s.invalidateTeachers(ctx)
	return nil
}

// invalidateTeachers drops cached directory pages. Role changes can move a
// user in or out of the directory, so every user write clears it.
func (s *UserService) invalidateTeachers(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, teacherListKeyPrefix+"*")
}

func (s *UserService) teacherListTTL() time.Duration {
	if ttl := s.config.AvatarURLTTL / 2; ttl < teacherListTTL {
		return ttl
	}
	return teacherListTTL
}

func (s *UserService) attachAvatar(ctx context.Context, user *models.User) {
	if s.store == nil || user.ProfilePicture == nil || *user.ProfilePicture == "" {
		return
	}
	link, err := s.store.PresignGet(ctx, *user.ProfilePicture, s.config.AvatarURLTTL)
	if err != nil {
		s.logger.Warn("failed to presign avatar", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.AvatarURL = link
}

func (s *UserService) audit(ctx context.Context, actorID, action, targetID string, oldValues, newValues []byte, meta models.LoginRequest) {
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   models.AuditResourceUser,
		ResourceID: &targetID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}

func auditSnapshot(user *models.User) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"name":     user.Name,
		"email":    user.Email,
		"role":     user.Role,
		"approved": user.Approved,
	})
	return payload
}

func applyProfile(user *models.User, req ProfileFields) {
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		user.Name = strings.TrimSpace(*req.Name)
	}
	set := func(dst **string, v *string) {
		if v != nil {
			*dst = trimmed(v)
		}
	}
	set(&user.Department, req.Department)
	set(&user.Subject, req.Subject)
	set(&user.Specialization, req.Specialization)
	set(&user.OfficeHours, req.OfficeHours)
	set(&user.Bio, req.Bio)
	set(&user.StudentNumber, req.StudentNumber)
	set(&user.Year, req.Year)
	set(&user.Course, req.Course)
}
