package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/models"
)

// UserSummary is the public projection of a user embedded in other records.
type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsOnline  bool   `json:"is_online"`
}

// UserDTO is the profile returned to the account owner.
type UserDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	Phone        string     `json:"phone,omitempty"`
	Address      string     `json:"address,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	IsOnline     bool       `json:"is_online"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PostSummary is the projection of a food post embedded in requests and notifications.
type PostSummary struct {
	ID        string    `json:"id"`
	FoodType  string    `json:"food_type"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit,omitempty"`
	OwnerID   string    `json:"owner_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PostDTO is the full food post projection.
type PostDTO struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	Owner       *UserSummary `json:"owner,omitempty"`
	FoodType    string       `json:"food_type"`
	Description string       `json:"description,omitempty"`
	Quantity    float64      `json:"quantity"`
	Unit        string       `json:"unit,omitempty"`
	ExpiresAt   time.Time    `json:"expires_at"`
	ImageURLs   []string     `json:"image_urls"`
	Latitude    float64      `json:"latitude"`
	Longitude   float64      `json:"longitude"`
	CreatedAt   time.Time    `json:"created_at"`
}

// PostActivity aggregates request counts for a post.
type PostActivity struct {
	PostID   string `json:"post_id"`
	Pending  int64  `json:"pending"`
	Accepted int64  `json:"accepted"`
	Rejected int64  `json:"rejected"`
}

// RequestDTO is the food request projection shared by REST and realtime pushes.
type RequestDTO struct {
	ID          string       `json:"id"`
	PostID      string       `json:"post_id"`
	RequesterID string       `json:"requester_id"`
	ReceiverID  string       `json:"receiver_id"`
	Status      string       `json:"status"`
	Message     string       `json:"message,omitempty"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Requester   *UserSummary `json:"requester,omitempty"`
	Post        *PostSummary `json:"post,omitempty"`
}

// NotificationDTO is the populated notification projection.
type NotificationDTO struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id,omitempty"`
	Audience    string         `json:"audience"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	RequesterID string         `json:"requester_id,omitempty"`
	PostID      string         `json:"post_id,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Requester   *UserSummary   `json:"requester,omitempty"`
	Post        *PostSummary   `json:"post,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IsRead      bool           `json:"is_read"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ParticipantDTO describes one side of a chat.
type ParticipantDTO struct {
	User        UserSummary `json:"user"`
	UnreadCount int         `json:"unread_count"`
	LastSeenAt  *time.Time  `json:"last_seen_at,omitempty"`
}

// ChatDTO is a chat as seen by one of its participants.
type ChatDTO struct {
	ID            string           `json:"id"`
	Participants  []ParticipantDTO `json:"participants"`
	Peer          *UserSummary     `json:"peer,omitempty"`
	UnreadCount   int              `json:"unread_count"`
	LastMessageID *string          `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ChatSummary is the chat embedded in a message.
type ChatSummary struct {
	ID           string        `json:"id"`
	Participants []UserSummary `json:"participants"`
}

// MessageDTO is the populated message projection shared by REST and realtime pushes.
type MessageDTO struct {
	ID        string       `json:"id"`
	ChatID    string       `json:"chat_id"`
	SenderID  string       `json:"sender_id"`
	Sender    UserSummary  `json:"sender"`
	Content   string       `json:"content"`
	Seq       int64        `json:"seq"`
	Status    string       `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	Chat      *ChatSummary `json:"chat,omitempty"`
}

// ReadReceipt is the payload of a message.read push.
type ReadReceipt struct {
	ChatID string    `json:"chat_id"`
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
	Count  int64     `json:"count"`
}

func mapUserSummary(user *models.User) *UserSummary {
	if user == nil {
		return nil
	}
	return &UserSummary{
		ID:        user.ID,
		Name:      user.Name,
		Role:      user.Role,
		AvatarURL: user.AvatarURL,
		IsOnline:  user.IsOnline,
	}
}

func mapUser(user *models.User) UserDTO {
	return UserDTO{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		Role:         user.Role,
		Phone:        user.Phone,
		Address:      user.Address,
		AvatarURL:    user.AvatarURL,
		IsOnline:     user.IsOnline,
		LastActiveAt: user.LastActiveAt,
		CreatedAt:    user.CreatedAt,
	}
}

func mapPostSummary(post *models.FoodPost) *PostSummary {
	if post == nil {
		return nil
	}
	return &PostSummary{
		ID:        post.ID,
		FoodType:  post.FoodType,
		Quantity:  post.Quantity,
		Unit:      post.Unit,
		OwnerID:   post.OwnerID,
		ExpiresAt: post.ExpiresAt,
	}
}

func mapPost(post *models.FoodPost, owner *models.User) PostDTO {
	images := []string(post.ImageURLs)
	if images == nil {
		images = []string{}
	}
	return PostDTO{
		ID:          post.ID,
		OwnerID:     post.OwnerID,
		Owner:       mapUserSummary(owner),
		FoodType:    post.FoodType,
		Description: post.Description,
		Quantity:    post.Quantity,
		Unit:        post.Unit,
		ExpiresAt:   post.ExpiresAt,
		ImageURLs:   images,
		Latitude:    post.Latitude,
		Longitude:   post.Longitude,
		CreatedAt:   post.CreatedAt,
	}
}

func mapRequest(request *models.FoodRequest, requester *models.User, post *models.FoodPost) RequestDTO {
	return RequestDTO{
		ID:          request.ID,
		PostID:      request.PostID,
		RequesterID: request.RequesterID,
		ReceiverID:  request.ReceiverID,
		Status:      request.Status,
		Message:     request.Message,
		DecidedAt:   request.DecidedAt,
		CreatedAt:   request.CreatedAt,
		UpdatedAt:   request.UpdatedAt,
		Requester:   mapUserSummary(requester),
		Post:        mapPostSummary(post),
	}
}

func mapNotification(notification *models.Notification, requester *models.User, post *models.FoodPost) NotificationDTO {
	return NotificationDTO{
		ID:          notification.ID,
		UserID:      notification.UserID,
		Audience:    notification.Audience,
		Type:        notification.Type,
		Title:       notification.Title,
		Message:     notification.Message,
		RequesterID: notification.RequesterID,
		PostID:      notification.PostID,
		RequestID:   notification.RequestID,
		Requester:   mapUserSummary(requester),
		Post:        mapPostSummary(post),
		Metadata:    decodeJSON(notification.Metadata),
		IsRead:      notification.IsRead,
		ReadAt:      notification.ReadAt,
		CreatedAt:   notification.CreatedAt,
	}
}

func decodeJSON(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func encodeJSON(value map[string]any) ([]byte, error) {
	if len(value) == 0 {
		return nil, nil
	}
	return json.Marshal(value)
}

// refs batch-loads the users and posts referenced by a set of records.
type refs struct {
	users map[string]*models.User
	posts map[string]*models.FoodPost
}

func loadRefs(ctx context.Context, db *gorm.DB, userIDs, postIDs []string) (refs, error) {
	out := refs{
		users: make(map[string]*models.User),
		posts: make(map[string]*models.FoodPost),
	}

	if ids := normaliseIDs(userIDs); len(ids) > 0 {
		var users []models.User
		if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
			return out, fmt.Errorf("load users: %w", err)
		}
		for i := range users {
			out.users[users[i].ID] = &users[i]
		}
	}

	if ids := normaliseIDs(postIDs); len(ids) > 0 {
		var posts []models.FoodPost
		if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&posts).Error; err != nil {
			return out, fmt.Errorf("load posts: %w", err)
		}
		for i := range posts {
			out.posts[posts[i].ID] = &posts[i]
		}
	}

	return out, nil
}

func populateNotifications(ctx context.Context, db *gorm.DB, rows []models.Notification) ([]NotificationDTO, error) {
	userIDs := make([]string, 0, len(rows))
	postIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		userIDs = append(userIDs, row.RequesterID)
		postIDs = append(postIDs, row.PostID)
	}

	loaded, err := loadRefs(ctx, db, userIDs, postIDs)
	if err != nil {
		return nil, err
	}

	out := make([]NotificationDTO, 0, len(rows))
	for i := range rows {
		out = append(out, mapNotification(&rows[i], loaded.users[rows[i].RequesterID], loaded.posts[rows[i].PostID]))
	}
	return out, nil
}

func populateRequests(ctx context.Context, db *gorm.DB, rows []models.FoodRequest) ([]RequestDTO, error) {
	userIDs := make([]string, 0, len(rows))
	postIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		userIDs = append(userIDs, row.RequesterID)
		postIDs = append(postIDs, row.PostID)
	}

	loaded, err := loadRefs(ctx, db, userIDs, postIDs)
	if err != nil {
		return nil, err
	}

	out := make([]RequestDTO, 0, len(rows))
	for i := range rows {
		out = append(out, mapRequest(&rows[i], loaded.users[rows[i].RequesterID], loaded.posts[rows[i].PostID]))
	}
	return out, nil
}

func loadNotificationDTO(ctx context.Context, db *gorm.DB, id string) (NotificationDTO, error) {
	var row models.Notification
	if err := db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return NotificationDTO{}, fmt.Errorf("load notification: %w", err)
	}
	dtos, err := populateNotifications(ctx, db, []models.Notification{row})
	if err != nil {
		return NotificationDTO{}, err
	}
	return dtos[0], nil
}

func loadRequestDTO(ctx context.Context, db *gorm.DB, id string) (RequestDTO, error) {
	var row models.FoodRequest
	if err := db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return RequestDTO{}, fmt.Errorf("load request: %w", err)
	}
	dtos, err := populateRequests(ctx, db, []models.FoodRequest{row})
	if err != nil {
		return RequestDTO{}, err
	}
	return dtos[0], nil
}
