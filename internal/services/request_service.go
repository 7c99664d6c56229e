package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/internal/realtime"
	apperrors "github.com/charlesng35/foodbridge/pkg/errors"
)

// Request list perspectives.
const (
	RequestRoleRequester = "requester"
	RequestRoleReceiver  = "receiver"
)

// CreateRequestInput describes a charity asking for a post.
type CreateRequestInput struct {
	PostID      string `json:"post_id" validate:"required,notblank"`
	RequesterID string `json:"-" validate:"required"`
	ReceiverID  string `json:"receiver_id"`
	Message     string `json:"message" validate:"omitempty,max=1000"`
}

// DecideRequestInput identifies a request by id, by its notification, or by (post, requester).
type DecideRequestInput struct {
	RequestID      string
	NotificationID string
	PostID         string
	RequesterID    string
	Decision       string
	ActorID        string
}

// ListRequestsInput filters the request listing.
type ListRequestsInput struct {
	UserID string
	Role   string
	Status string
	PostID string
	Limit  int
	Offset int
}

// RequestResult pairs a request with the notification it produced. It is also the
// request.decided payload.
type RequestResult struct {
	Notification NotificationDTO `json:"notification"`
	Request      RequestDTO      `json:"request"`
}

// DecisionResult is the outcome of DecideRequest.
type DecisionResult struct {
	RequestResult
	AutoRejected []RequestResult `json:"auto_rejected,omitempty"`
}

// RequestServiceOption customises a RequestService.
type RequestServiceOption func(*RequestService)

// WithAutoRejectSiblings rejects the other pending requests on a post when one is accepted.
func WithAutoRejectSiblings(enabled bool) RequestServiceOption {
	return func(s *RequestService) {
		s.autoRejectSiblings = enabled
	}
}

// RequestService runs the food request lifecycle.
type RequestService struct {
	db                 *gorm.DB
	fanout             fanout
	autoRejectSiblings bool
	now                func() time.Time
}

// NewRequestService constructs a RequestService.
func NewRequestService(db *gorm.DB, publisher Publisher, opts ...RequestServiceOption) (*RequestService, error) {
	if db == nil {
		return nil, errors.New("request service: db is required")
	}
	svc := &RequestService{
		db:     db,
		fanout: newFanout(publisher, "requests"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create stores a pending request and notifies the post owner.
func (s *RequestService) Create(ctx context.Context, input CreateRequestInput) (*RequestResult, Delivery, error) {
	ctx = ensureContext(ctx)

	input.PostID = strings.TrimSpace(input.PostID)
	input.RequesterID = strings.TrimSpace(input.RequesterID)
	input.ReceiverID = strings.TrimSpace(input.ReceiverID)
	input.Message = strings.TrimSpace(input.Message)
	if err := validateInput(input); err != nil {
		return nil, "", err
	}

	requester, err := findUser(ctx, s.db, input.RequesterID)
	if err != nil {
		return nil, "", err
	}
	if !requester.IsCharity() {
		return nil, "", apperrors.ErrForbidden.WithMessage("Only charities can request food")
	}

	post, err := findPost(ctx, s.db, input.PostID)
	if err != nil {
		return nil, "", err
	}
	if post.OwnerID == requester.ID {
		return nil, "", apperrors.ErrForbidden.WithMessage("You cannot request your own post")
	}
	if input.ReceiverID != "" && input.ReceiverID != post.OwnerID {
		return nil, "", apperrors.NewBadRequest("receiver_id must be the post owner")
	}
	if post.Expired(utcNow(s.now)) {
		return nil, "", apperrors.NewBadRequest("This food post has expired")
	}

	var existing int64
	if err := s.db.WithContext(ctx).
		Model(&models.FoodRequest{}).
		Where("post_id = ? AND requester_id = ?", post.ID, requester.ID).
		Count(&existing).Error; err != nil {
		return nil, "", fmt.Errorf("request service: check duplicate: %w", err)
	}
	if existing > 0 {
		return nil, "", apperrors.ErrDuplicateRequest
	}

	request := &models.FoodRequest{
		PostID:      post.ID,
		RequesterID: requester.ID,
		ReceiverID:  post.OwnerID,
		Status:      models.RequestStatusPending,
		Message:     input.Message,
	}

	var notificationID string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(request).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrDuplicateRequest
			}
			return fmt.Errorf("create request: %w", err)
		}

		metadata, err := encodeJSON(map[string]any{
			"food_type":      post.FoodType,
			"requester_name": requester.Name,
		})
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}

		notification := &models.Notification{
			UserID:      post.OwnerID,
			Audience:    models.AudienceUser,
			Type:        models.NotificationTypeRequest,
			Title:       "New food request",
			Message:     fmt.Sprintf("%s requested your %s", requester.Name, post.FoodType),
			RequesterID: requester.ID,
			PostID:      post.ID,
			RequestID:   request.ID,
			Metadata:    metadata,
		}
		if err := tx.Create(notification).Error; err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		notificationID = notification.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateRequest) {
			return nil, "", apperrors.ErrDuplicateRequest
		}
		return nil, "", fmt.Errorf("request service: create: %w", err)
	}

	result, err := s.loadResult(ctx, request.ID, notificationID)
	if err != nil {
		return nil, "", err
	}

	pushes := []push{{
		room:  realtime.UserRoom(post.OwnerID),
		event: realtime.EventRequestCreated,
		data:  result.Notification,
	}}
	delivery := s.withActivity(ctx, post.ID, pushes)
	return result, delivery, nil
}

type decided struct {
	requestID      string
	notificationID string
	requesterID    string
}

// Decide moves a pending request to accepted or rejected and notifies the requester.
func (s *RequestService) Decide(ctx context.Context, input DecideRequestInput) (*DecisionResult, Delivery, error) {
	ctx = ensureContext(ctx)

	decision := strings.ToLower(strings.TrimSpace(input.Decision))
	if decision != models.RequestStatusAccepted && decision != models.RequestStatusRejected {
		return nil, "", apperrors.NewBadRequest("decision must be accepted or rejected")
	}

	request, err := s.resolve(ctx, input)
	if err != nil {
		return nil, "", err
	}
	if request.ReceiverID != strings.TrimSpace(input.ActorID) {
		return nil, "", apperrors.ErrForbidden.WithMessage("Only the post owner can decide this request")
	}
	if request.IsTerminal() {
		return nil, "", apperrors.ErrRequestAlreadyDecided
	}

	owner, err := findUser(ctx, s.db, request.ReceiverID)
	if err != nil {
		return nil, "", err
	}
	post, err := findPost(ctx, s.db, request.PostID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, "", err
	}

	now := utcNow(s.now)
	var outcomes []decided
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		outcome, err := decide(tx, request, decision, owner, post, now)
		if err != nil {
			return err
		}
		outcomes = append(outcomes, outcome)

		if decision != models.RequestStatusAccepted || !s.autoRejectSiblings {
			return nil
		}

		var siblings []models.FoodRequest
		if err := tx.Where("post_id = ? AND status = ? AND id <> ?", request.PostID, models.RequestStatusPending, request.ID).
			Order("created_at ASC").
			Find(&siblings).Error; err != nil {
			return fmt.Errorf("load sibling requests: %w", err)
		}
		for i := range siblings {
			outcome, err := decide(tx, &siblings[i], models.RequestStatusRejected, owner, post, now)
			if errors.Is(err, apperrors.ErrRequestAlreadyDecided) {
				continue
			}
			if err != nil {
				return err
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrRequestAlreadyDecided) {
			return nil, "", apperrors.ErrRequestAlreadyDecided
		}
		return nil, "", fmt.Errorf("request service: decide: %w", err)
	}

	result := &DecisionResult{}
	pushes := make([]push, 0, len(outcomes))
	for i, outcome := range outcomes {
		loaded, err := s.loadResult(ctx, outcome.requestID, outcome.notificationID)
		if err != nil {
			return nil, "", err
		}
		if i == 0 {
			result.RequestResult = *loaded
		} else {
			result.AutoRejected = append(result.AutoRejected, *loaded)
		}
		pushes = append(pushes, push{
			room:  realtime.UserRoom(outcome.requesterID),
			event: realtime.EventRequestDecided,
			data:  *loaded,
		})
	}

	delivery := s.withActivity(ctx, request.PostID, pushes)
	return result, delivery, nil
}

// decide applies a conditional status update and records the decision notification.
func decide(tx *gorm.DB, request *models.FoodRequest, decision string, owner *models.User, post *models.FoodPost, now time.Time) (decided, error) {
	res := tx.Model(&models.FoodRequest{}).
		Where("id = ? AND status = ?", request.ID, models.RequestStatusPending).
		Updates(map[string]any{
			"status":     decision,
			"decided_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return decided{}, fmt.Errorf("update request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return decided{}, apperrors.ErrRequestAlreadyDecided
	}

	foodType := "your requested food"
	if post != nil {
		foodType = post.FoodType
	}

	kind := models.NotificationTypeRequestRejected
	title := "Request rejected"
	if decision == models.RequestStatusAccepted {
		kind = models.NotificationTypeRequestAccepted
		title = "Request accepted"
	}

	notification := &models.Notification{
		UserID:      request.RequesterID,
		Audience:    models.AudienceUser,
		Type:        kind,
		Title:       title,
		Message:     fmt.Sprintf("%s %s your request for %s", owner.Name, decision, foodType),
		RequesterID: request.RequesterID,
		PostID:      request.PostID,
		RequestID:   request.ID,
	}
	if err := tx.Create(notification).Error; err != nil {
		return decided{}, fmt.Errorf("create decision notification: %w", err)
	}

	if err := tx.Model(&models.Notification{}).
		Where("request_id = ? AND type = ? AND user_id = ? AND is_read = ?",
			request.ID, models.NotificationTypeRequest, request.ReceiverID, false).
		Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
		return decided{}, fmt.Errorf("mark request notification read: %w", err)
	}

	return decided{
		requestID:      request.ID,
		notificationID: notification.ID,
		requesterID:    request.RequesterID,
	}, nil
}

func (s *RequestService) resolve(ctx context.Context, input DecideRequestInput) (*models.FoodRequest, error) {
	requestID := strings.TrimSpace(input.RequestID)
	postID := strings.TrimSpace(input.PostID)
	requesterID := strings.TrimSpace(input.RequesterID)

	if requestID == "" && strings.TrimSpace(input.NotificationID) != "" {
		var notification models.Notification
		if err := s.db.WithContext(ctx).First(&notification, "id = ?", strings.TrimSpace(input.NotificationID)).Error; err != nil {
			if isNotFound(err) {
				return nil, apperrors.NewNotFound("notification")
			}
			return nil, fmt.Errorf("request service: load notification: %w", err)
		}
		if notification.Type != models.NotificationTypeRequest {
			return nil, apperrors.NewBadRequest("notification does not refer to a food request")
		}
		if notification.UserID != strings.TrimSpace(input.ActorID) {
			return nil, apperrors.ErrForbidden
		}
		requestID = notification.RequestID
		postID = notification.PostID
		requesterID = notification.RequesterID
	}

	var request models.FoodRequest
	query := s.db.WithContext(ctx)
	switch {
	case requestID != "":
		query = query.Where("id = ?", requestID)
	case postID != "" && requesterID != "":
		query = query.Where("post_id = ? AND requester_id = ?", postID, requesterID)
	default:
		return nil, apperrors.NewBadRequest("request id is required")
	}

	if err := query.First(&request).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("request")
		}
		return nil, fmt.Errorf("request service: load request: %w", err)
	}
	return &request, nil
}

// Get returns a request visible to the viewer.
func (s *RequestService) Get(ctx context.Context, id, viewerID string) (RequestDTO, error) {
	ctx = ensureContext(ctx)

	dto, err := loadRequestDTO(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		if isNotFound(err) {
			return RequestDTO{}, apperrors.NewNotFound("request")
		}
		return RequestDTO{}, fmt.Errorf("request service: %w", err)
	}
	if dto.RequesterID != viewerID && dto.ReceiverID != viewerID {
		return RequestDTO{}, apperrors.ErrForbidden
	}
	return dto, nil
}

// List returns requests made or received by the user, newest first.
func (s *RequestService) List(ctx context.Context, input ListRequestsInput) ([]RequestDTO, int64, error) {
	ctx = ensureContext(ctx)
	limit, offset := pageBounds(input.Limit, input.Offset)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, 0, apperrors.ErrUnauthorized
	}

	query := s.db.WithContext(ctx).Model(&models.FoodRequest{})
	switch strings.ToLower(strings.TrimSpace(input.Role)) {
	case RequestRoleRequester:
		query = query.Where("requester_id = ?", userID)
	case RequestRoleReceiver:
		query = query.Where("receiver_id = ?", userID)
	case "":
		query = query.Where("requester_id = ? OR receiver_id = ?", userID, userID)
	default:
		return nil, 0, apperrors.NewBadRequest("role must be requester or receiver")
	}
	if status := strings.ToLower(strings.TrimSpace(input.Status)); status != "" {
		query = query.Where("status = ?", status)
	}
	if postID := strings.TrimSpace(input.PostID); postID != "" {
		query = query.Where("post_id = ?", postID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("request service: count requests: %w", err)
	}

	var rows []models.FoodRequest
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("request service: list requests: %w", err)
	}

	dtos, err := populateRequests(ctx, s.db, rows)
	if err != nil {
		return nil, 0, fmt.Errorf("request service: %w", err)
	}
	return dtos, total, nil
}

func (s *RequestService) loadResult(ctx context.Context, requestID, notificationID string) (*RequestResult, error) {
	request, err := loadRequestDTO(ctx, s.db, requestID)
	if err != nil {
		return nil, fmt.Errorf("request service: %w", err)
	}
	notification, err := loadNotificationDTO(ctx, s.db, notificationID)
	if err != nil {
		return nil, fmt.Errorf("request service: %w", err)
	}
	return &RequestResult{Notification: notification, Request: request}, nil
}

// withActivity appends the post.activity aggregate to the pushes and sends them.
func (s *RequestService) withActivity(ctx context.Context, postID string, pushes []push) Delivery {
	activity, err := postActivity(ctx, s.db, postID)
	if err != nil {
		s.fanout.log.Warn("post activity unavailable", zap.String("post_id", postID), zap.Error(err))
		s.fanout.send(ctx, pushes...)
		return DeliveryDeferred
	}
	pushes = append(pushes, push{
		room:  realtime.PostRoom(postID),
		event: realtime.EventPostActivity,
		data:  activity,
	})
	return s.fanout.send(ctx, pushes...)
}
