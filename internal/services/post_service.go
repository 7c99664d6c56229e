package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/internal/realtime"
	apperrors "github.com/charlesng35/foodbridge/pkg/errors"
)

// CreatePostInput describes a new food post.
type CreatePostInput struct {
	FoodType    string    `json:"food_type" validate:"required,notblank,max=128"`
	Description string    `json:"description" validate:"omitempty,max=4000"`
	Quantity    float64   `json:"quantity" validate:"gt=0"`
	Unit        string    `json:"unit" validate:"omitempty,max=32"`
	ExpiresAt   time.Time `json:"expires_at" validate:"required"`
	ImageURLs   []string  `json:"image_urls" validate:"omitempty,max=10,dive,url"`
	Latitude    float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64   `json:"longitude" validate:"gte=-180,lte=180"`
}

// ListPostsInput filters the post listing.
type ListPostsInput struct {
	OwnerID    string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// PostResult is the outcome of CreatePost.
type PostResult struct {
	Post         PostDTO         `json:"post"`
	Notification NotificationDTO `json:"notification"`
}

// PostService publishes and reads food posts.
type PostService struct {
	db     *gorm.DB
	fanout fanout
	now    func() time.Time
}

// NewPostService constructs a PostService.
func NewPostService(db *gorm.DB, publisher Publisher) (*PostService, error) {
	if db == nil {
		return nil, errors.New("post service: db is required")
	}
	return &PostService{
		db:     db,
		fanout: newFanout(publisher, "posts"),
		now:    time.Now,
	}, nil
}

// Create stores a post by a restaurant and announces it to the charity pool.
func (s *PostService) Create(ctx context.Context, ownerID string, input CreatePostInput) (*PostResult, Delivery, error) {
	ctx = ensureContext(ctx)

	input.FoodType = strings.TrimSpace(input.FoodType)
	input.Description = strings.TrimSpace(input.Description)
	input.Unit = strings.TrimSpace(input.Unit)
	input.ImageURLs = normaliseIDs(input.ImageURLs)
	if err := validateInput(input); err != nil {
		return nil, "", err
	}

	now := utcNow(s.now)
	if !input.ExpiresAt.After(now) {
		return nil, "", apperrors.NewBadRequest("expires_at must be in the future")
	}

	owner, err := findUser(ctx, s.db, ownerID)
	if err != nil {
		return nil, "", err
	}
	if !owner.IsRestaurant() {
		return nil, "", apperrors.ErrForbidden.WithMessage("Only restaurants can publish food posts")
	}

	post := &models.FoodPost{
		OwnerID:     owner.ID,
		FoodType:    input.FoodType,
		Description: input.Description,
		Quantity:    input.Quantity,
		Unit:        input.Unit,
		ExpiresAt:   input.ExpiresAt.UTC(),
		ImageURLs:   datatypes.JSONSlice[string](input.ImageURLs),
		Latitude:    input.Latitude,
		Longitude:   input.Longitude,
	}

	var notificationID string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return fmt.Errorf("create post: %w", err)
		}

		notification := &models.Notification{
			Audience: models.AudienceCharity,
			Type:     models.NotificationTypePostCreated,
			Title:    "New food available",
			Message:  fmt.Sprintf("%s posted %s", owner.Name, describeQuantity(post)),
			PostID:   post.ID,
		}
		if err := tx.Create(notification).Error; err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		notificationID = notification.ID
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("post service: create: %w", err)
	}

	notification, err := loadNotificationDTO(ctx, s.db, notificationID)
	if err != nil {
		return nil, "", fmt.Errorf("post service: %w", err)
	}
	result := &PostResult{Post: mapPost(post, owner), Notification: notification}

	delivery := s.fanout.send(ctx, push{
		room:  realtime.CharityPoolRoom,
		event: realtime.EventPostCreated,
		data:  notification,
	})
	return result, delivery, nil
}

// Get returns one post with its owner summary.
func (s *PostService) Get(ctx context.Context, id string) (PostDTO, error) {
	ctx = ensureContext(ctx)

	post, err := findPost(ctx, s.db, id)
	if err != nil {
		return PostDTO{}, err
	}

	loaded, err := loadRefs(ctx, s.db, []string{post.OwnerID}, nil)
	if err != nil {
		return PostDTO{}, fmt.Errorf("post service: %w", err)
	}
	return mapPost(post, loaded.users[post.OwnerID]), nil
}

// List returns posts newest first together with the total count.
func (s *PostService) List(ctx context.Context, input ListPostsInput) ([]PostDTO, int64, error) {
	ctx = ensureContext(ctx)
	limit, offset := pageBounds(input.Limit, input.Offset)

	query := s.db.WithContext(ctx).Model(&models.FoodPost{})
	if owner := strings.TrimSpace(input.OwnerID); owner != "" {
		query = query.Where("owner_id = ?", owner)
	}
	if input.ActiveOnly {
		query = query.Where("expires_at > ?", utcNow(s.now))
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("post service: count posts: %w", err)
	}

	var posts []models.FoodPost
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&posts).Error; err != nil {
		return nil, 0, fmt.Errorf("post service: list posts: %w", err)
	}

	ownerIDs := make([]string, 0, len(posts))
	for _, post := range posts {
		ownerIDs = append(ownerIDs, post.OwnerID)
	}
	loaded, err := loadRefs(ctx, s.db, ownerIDs, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("post service: %w", err)
	}

	out := make([]PostDTO, 0, len(posts))
	for i := range posts {
		out = append(out, mapPost(&posts[i], loaded.users[posts[i].OwnerID]))
	}
	return out, total, nil
}

// Activity returns request counts per status for a post.
func (s *PostService) Activity(ctx context.Context, postID string) (PostActivity, error) {
	return postActivity(ensureContext(ctx), s.db, postID)
}

func postActivity(ctx context.Context, db *gorm.DB, postID string) (PostActivity, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := db.WithContext(ctx).
		Model(&models.FoodRequest{}).
		Select("status, COUNT(*) AS total").
		Where("post_id = ?", postID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return PostActivity{}, fmt.Errorf("count requests: %w", err)
	}

	activity := PostActivity{PostID: postID}
	for _, row := range rows {
		switch row.Status {
		case models.RequestStatusPending:
			activity.Pending = row.Total
		case models.RequestStatusAccepted:
			activity.Accepted = row.Total
		case models.RequestStatusRejected:
			activity.Rejected = row.Total
		}
	}
	return activity, nil
}

func findUser(ctx context.Context, db *gorm.DB, id string) (*models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewNotFound("user")
	}
	var user models.User
	if err := db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("user")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

func findPost(ctx context.Context, db *gorm.DB, id string) (*models.FoodPost, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewNotFound("post")
	}
	var post models.FoodPost
	if err := db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, apperrors.NewNotFound("post")
		}
		return nil, fmt.Errorf("load post: %w", err)
	}
	return &post, nil
}

func describeQuantity(post *models.FoodPost) string {
	quantity := fmt.Sprintf("%g", post.Quantity)
	if post.Unit != "" {
		quantity += " " + post.Unit
	}
	return quantity + " of " + post.FoodType
}
