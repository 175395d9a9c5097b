package service

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/littledevelop/student-teacher-appointment-backend/internal/models"
	"github.com/littledevelop/student-teacher-appointment-backend/internal/repository"
)

// mockClock hands out strictly increasing timestamps so ordering by
// created_at is deterministic.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type mockUserRepo struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	auditLogs     []*models.AuditLog
	findErr       error
	listErr       error
	teacherCalls  int
}

func newMockUserRepo(users ...*models.User) *mockUserRepo {
	m := &mockUserRepo{users: map[string]*models.User{}, refreshTokens: map[string]*models.RefreshToken{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *mockUserRepo) SetProfilePicture(ctx context.Context, id, key string) error {
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.ProfilePicture = &key
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var out []models.User
	for _, u := range m.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Approved != nil && u.Approved != *filter.Approved {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (m *mockUserRepo) ListApprovedTeachers(ctx context.Context, search string) ([]models.User, error) {
	m.teacherCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.User
	for _, u := range m.users {
		if u.Role != models.RoleTeacher || !u.Approved {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Name), search) {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockUserRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	cp := *token
	m.refreshTokens[token.Token] = &cp
	return nil
}

func (m *mockUserRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *rt
	return &cp, nil
}

func (m *mockUserRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, rt := range m.refreshTokens {
		if rt.ID == id {
			rt.Revoked = true
			rt.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for _, rt := range m.refreshTokens {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func (m *mockUserRepo) ref(id string) *models.UserRef {
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	ref := u.Ref()
	return &ref
}

// mockAppointmentRepo enforces the active-booking uniqueness the database
// index provides.
type mockAppointmentRepo struct {
	items     map[string]*models.Appointment
	users     *mockUserRepo
	clock     *mockClock
	listErr   error
	skipCheck bool
}

func newMockAppointmentRepo(users *mockUserRepo) *mockAppointmentRepo {
	return &mockAppointmentRepo{items: map[string]*models.Appointment{}, users: users, clock: newMockClock()}
}

func (m *mockAppointmentRepo) occupied(a *models.Appointment) bool {
	for _, other := range m.items {
		if other.ID != a.ID && other.Status.Active() && a.Status.Active() &&
			other.StudentID == a.StudentID && other.TeacherID == a.TeacherID &&
			other.Date == a.Date && other.Time == a.Time {
			return true
		}
	}
	return false
}

func (m *mockAppointmentRepo) Create(ctx context.Context, appt *models.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if m.occupied(appt) {
		return repository.ErrDuplicate
	}
	appt.CreatedAt = m.clock.Next()
	appt.UpdatedAt = appt.CreatedAt
	cp := *appt
	m.items[appt.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) FindViewByID(ctx context.Context, id string) (*models.AppointmentView, error) {
	a, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.AppointmentView{Appointment: *a, Student: m.users.ref(a.StudentID), Teacher: m.users.ref(a.TeacherID)}, nil
}

func (m *mockAppointmentRepo) ExistsActive(ctx context.Context, studentID, teacherID, date, t, excludeID string) (bool, error) {
	if m.skipCheck {
		return false, nil
	}
	candidate := &models.Appointment{ID: excludeID, StudentID: studentID, TeacherID: teacherID, Date: date, Time: t, Status: models.AppointmentPending}
	return m.occupied(candidate), nil
}

func (m *mockAppointmentRepo) Update(ctx context.Context, appt *models.Appointment) error {
	if _, ok := m.items[appt.ID]; !ok {
		return sql.ErrNoRows
	}
	if m.occupied(appt) {
		return repository.ErrDuplicate
	}
	cp := *appt
	m.items[appt.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) List(ctx context.Context, scope models.AppointmentScope) ([]models.AppointmentView, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.AppointmentView
	for _, a := range m.items {
		if scope.StudentID != "" && a.StudentID != scope.StudentID {
			continue
		}
		if scope.TeacherID != "" && a.TeacherID != scope.TeacherID {
			continue
		}
		out = append(out, models.AppointmentView{Appointment: *a, Student: m.users.ref(a.StudentID), Teacher: m.users.ref(a.TeacherID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockAppointmentRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

type mockAvailabilityRepo struct {
	items   map[string]*models.Availability
	listErr error
	lists   int
}

func newMockAvailabilityRepo() *mockAvailabilityRepo {
	return &mockAvailabilityRepo{items: map[string]*models.Availability{}}
}

func (m *mockAvailabilityRepo) taken(slot *models.Availability) bool {
	for _, other := range m.items {
		if other.ID != slot.ID && other.TeacherID == slot.TeacherID && other.Date == slot.Date &&
			other.StartTime == slot.StartTime && other.EndTime == slot.EndTime {
			return true
		}
	}
	return false
}

func (m *mockAvailabilityRepo) Create(ctx context.Context, slot *models.Availability) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	if m.taken(slot) {
		return repository.ErrDuplicate
	}
	cp := *slot
	m.items[slot.ID] = &cp
	return nil
}

func (m *mockAvailabilityRepo) FindOwned(ctx context.Context, id, teacherID string) (*models.Availability, error) {
	s, ok := m.items[id]
	if !ok || s.TeacherID != teacherID {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *mockAvailabilityRepo) List(ctx context.Context, filter models.AvailabilityFilter) ([]models.Availability, error) {
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Availability
	for _, s := range m.items {
		if s.TeacherID != filter.TeacherID {
			continue
		}
		if filter.StartDate != "" && s.Date < filter.StartDate {
			continue
		}
		if filter.EndDate != "" && s.Date > filter.EndDate {
			continue
		}
		if filter.AvailableOnly && !s.IsAvailable {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (m *mockAvailabilityRepo) Update(ctx context.Context, slot *models.Availability) error {
	cur, ok := m.items[slot.ID]
	if !ok || cur.TeacherID != slot.TeacherID {
		return sql.ErrNoRows
	}
	if m.taken(slot) {
		return repository.ErrDuplicate
	}
	cp := *slot
	m.items[slot.ID] = &cp
	return nil
}

func (m *mockAvailabilityRepo) Delete(ctx context.Context, id, teacherID string) error {
	cur, ok := m.items[id]
	if !ok || cur.TeacherID != teacherID {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

type mockMessageRepo struct {
	items   []*models.Message
	users   *mockUserRepo
	clock   *mockClock
	listErr error

	offsets []int
}

func newMockMessageRepo(users *mockUserRepo) *mockMessageRepo {
	return &mockMessageRepo{users: users, clock: newMockClock()}
}

func (m *mockMessageRepo) view(msg *models.Message) models.MessageView {
	return models.MessageView{Message: *msg, Sender: m.users.ref(msg.SenderID), Receiver: m.users.ref(msg.ReceiverID)}
}

func (m *mockMessageRepo) newestFirst(keep func(*models.Message) bool) []models.MessageView {
	var out []models.MessageView
	for _, msg := range m.items {
		if keep(msg) {
			out = append(out, m.view(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func window(views []models.MessageView, limit, offset int) []models.MessageView {
	if offset < 0 || offset > len(views) {
		return nil
	}
	end := offset + limit
	if end > len(views) {
		end = len(views)
	}
	return views[offset:end]
}

func (m *mockMessageRepo) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.clock.Next()
	}
	cp := *msg
	m.items = append(m.items, &cp)
	return nil
}

func (m *mockMessageRepo) List(ctx context.Context, filter models.MessageFilter) ([]models.MessageView, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	all := m.newestFirst(func(msg *models.Message) bool {
		if filter.UnreadOnly {
			return msg.ReceiverID == filter.UserID && !msg.IsRead
		}
		return msg.SenderID == filter.UserID || msg.ReceiverID == filter.UserID
	})
	offset := (filter.Page - 1) * filter.PageSize
	m.offsets = append(m.offsets, offset)
	return window(all, filter.PageSize, offset), len(all), nil
}

func (m *mockMessageRepo) ListInvolving(ctx context.Context, userID string) ([]models.MessageView, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.newestFirst(func(msg *models.Message) bool {
		return msg.SenderID == userID || msg.ReceiverID == userID
	}), nil
}

func (m *mockMessageRepo) ListBetween(ctx context.Context, userID, otherID string, limit, offset int) ([]models.MessageView, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	all := m.newestFirst(func(msg *models.Message) bool {
		return (msg.SenderID == userID && msg.ReceiverID == otherID) || (msg.SenderID == otherID && msg.ReceiverID == userID)
	})
	m.offsets = append(m.offsets, offset)
	return window(all, limit, offset), len(all), nil
}

func (m *mockMessageRepo) MarkRead(ctx context.Context, id, receiverID string, at time.Time) (*models.Message, error) {
	for _, msg := range m.items {
		if msg.ID == id && msg.ReceiverID == receiverID {
			msg.IsRead = true
			if msg.ReadAt == nil {
				msg.ReadAt = &at
			}
			cp := *msg
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockMessageRepo) MarkThreadRead(ctx context.Context, receiverID, senderID string, at time.Time) (int64, error) {
	var n int64
	for _, msg := range m.items {
		if msg.ReceiverID == receiverID && msg.SenderID == senderID && !msg.IsRead {
			msg.IsRead = true
			msg.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (m *mockMessageRepo) Delete(ctx context.Context, id, userID string) error {
	for i, msg := range m.items {
		if msg.ID == id && (msg.SenderID == userID || msg.ReceiverID == userID) {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockMessageRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	n := 0
	for _, msg := range m.items {
		if msg.ReceiverID == userID && !msg.IsRead {
			n++
		}
	}
	return n, nil
}

type notification struct {
	kind string
	to   string
	link string
}

type mockNotifier struct {
	sent []notification
}

func (m *mockNotifier) AppointmentBooked(ctx context.Context, teacher models.UserRef, studentName string, appt models.Appointment) {
	m.sent = append(m.sent, notification{kind: "booked", to: teacher.Email})
}

func (m *mockNotifier) AppointmentStatusChanged(ctx context.Context, student models.UserRef, teacherName string, appt models.Appointment) {
	m.sent = append(m.sent, notification{kind: "status:" + string(appt.Status), to: student.Email})
}

func (m *mockNotifier) PasswordReset(ctx context.Context, user models.UserRef, link string, expiresAt time.Time) {
	m.sent = append(m.sent, notification{kind: "reset", to: user.Email, link: link})
}

func (m *mockNotifier) AccountApproved(ctx context.Context, user models.UserRef) {
	m.sent = append(m.sent, notification{kind: "approved", to: user.Email})
}

type mockEvents struct {
	names []string
}

func (m *mockEvents) RecordEvent(name string) {
	m.names = append(m.names, name)
}

type mockObjectStore struct {
	objects map[string]int64
	deleted []string
	putErr  error
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: map[string]int64{}}
}

func (m *mockObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	n, _ := io.Copy(io.Discard, r)
	m.objects[key] = n
	return nil
}

func (m *mockObjectStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://objects.test/" + key + "?sig=x", nil
}

func (m *mockObjectStore) Delete(ctx context.Context, key string) error {
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func testUser(role models.UserRole, name string, approved bool) *models.User {
	return &models.User{
		ID:       uuid.NewString(),
		Name:     name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@school.test",
		Role:     role,
		Approved: approved,
	}
}

func actorOf(u *models.User) models.Actor {
	return models.Actor{ID: u.ID, Role: u.Role}
}
