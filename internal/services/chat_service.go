package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/internal/realtime"
	apperrors "github.com/charlesng35/foodbridge/pkg/errors"
)

const (
	maxChatMessageLength   = 4000
	defaultMessagePageSize = 50
	receiptBatchSize       = 200
)

// SendMessageInput describes a chat message from a participant.
type SendMessageInput struct {
	ChatID   string `json:"chat_id" validate:"required,notblank"`
	SenderID string `json:"-" validate:"required"`
	Content  string `json:"content"`
}

// ListChatsInput filters the chat listing. Query matches the peer's name.
type ListChatsInput struct {
	Query  string
	Limit  int
	Offset int
}

// ListMessagesInput pages backwards through a chat by sequence number.
type ListMessagesInput struct {
	ChatID    string
	UserID    string
	BeforeSeq int64
	Limit     int
}

// ChatService manages direct chats between two users.
type ChatService struct {
	db     *gorm.DB
	fanout fanout
	now    func() time.Time
}

// NewChatService constructs a ChatService.
func NewChatService(db *gorm.DB, publisher Publisher) (*ChatService, error) {
	if db == nil {
		return nil, errors.New("chat service: db is required")
	}
	return &ChatService{
		db:     db,
		fanout: newFanout(publisher, "chats"),
		now:    time.Now,
	}, nil
}

// Open returns the chat between the user and the peer, creating it on first use.
func (s *ChatService) Open(ctx context.Context, userID, peerID string) (ChatDTO, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return ChatDTO{}, apperrors.NewBadRequest("peer_id is required")
	}
	if userID == peerID {
		return ChatDTO{}, apperrors.NewBadRequest("You cannot open a chat with yourself")
	}
	if _, err := findUser(ctx, s.db, userID); err != nil {
		return ChatDTO{}, err
	}
	if _, err := findUser(ctx, s.db, peerID); err != nil {
		return ChatDTO{}, err
	}

	key := models.ChatParticipantKey(userID, peerID)
	existing, err := s.findByKey(ctx, key)
	if err == nil {
		return s.Get(ctx, existing.ID, userID)
	}
	if !isNotFound(err) {
		return ChatDTO{}, fmt.Errorf("chat service: find chat: %w", err)
	}

	now := utcNow(s.now)
	chat := &models.Chat{ParticipantKey: key}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		participants := []models.ChatParticipant{
			{ChatID: chat.ID, UserID: userID, CreatedAt: now},
			{ChatID: chat.ID, UserID: peerID, CreatedAt: now},
		}
		if err := tx.Create(&participants).Error; err != nil {
			return fmt.Errorf("create participants: %w", err)
		}
		return nil
	})
	if err != nil {
		if !isUniqueConstraintError(err) {
			return ChatDTO{}, fmt.Errorf("chat service: open: %w", err)
		}
		existing, findErr := s.findByKey(ctx, key)
		if findErr != nil {
			return ChatDTO{}, fmt.Errorf("chat service: reload chat: %w", findErr)
		}
		return s.Get(ctx, existing.ID, userID)
	}

	return s.Get(ctx, chat.ID, userID)
}

func (s *ChatService) findByKey(ctx context.Context, key string) (*models.Chat, error) {
	var chat models.Chat
	if err := s.db.WithContext(ctx).Where("participant_key = ?", key).First(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

// EnsureParticipant verifies the chat exists and the user takes part in it.
func (s *ChatService) EnsureParticipant(ctx context.Context, chatID, userID string) error {
	return ensureParticipant(ensureContext(ctx), s.db, strings.TrimSpace(chatID), strings.TrimSpace(userID))
}

func ensureParticipant(ctx context.Context, db *gorm.DB, chatID, userID string) error {
	if chatID == "" {
		return apperrors.NewNotFound("chat")
	}

	var participants int64
	if err := db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&participants).Error; err != nil {
		return fmt.Errorf("chat service: check participant: %w", err)
	}
	if participants > 0 {
		return nil
	}

	var chats int64
	if err := db.WithContext(ctx).Model(&models.Chat{}).Where("id = ?", chatID).Count(&chats).Error; err != nil {
		return fmt.Errorf("chat service: check chat: %w", err)
	}
	if chats == 0 {
		return apperrors.NewNotFound("chat")
	}
	return apperrors.ErrForbidden.WithMessage("You are not a participant of this chat")
}

// Get returns a chat from the viewpoint of one participant.
func (s *ChatService) Get(ctx context.Context, chatID, userID string) (ChatDTO, error) {
	ctx = ensureContext(ctx)

	if err := s.EnsureParticipant(ctx, chatID, userID); err != nil {
		return ChatDTO{}, err
	}

	var chat models.Chat
	if err := s.withParticipants(s.db.WithContext(ctx)).First(&chat, "id = ?", strings.TrimSpace(chatID)).Error; err != nil {
		return ChatDTO{}, fmt.Errorf("chat service: load chat: %w", err)
	}
	return mapChat(&chat, userID), nil
}

// List returns the user's chats ordered by last activity.
func (s *ChatService) List(ctx context.Context, userID string, input ListChatsInput) ([]ChatDTO, int64, error) {
	ctx = ensureContext(ctx)
	limit, offset := pageBounds(input.Limit, input.Offset)

	userID = strings.TrimSpace(userID)
	query := s.db.WithContext(ctx).
		Model(&models.Chat{}).
		Joins("JOIN chat_participants me ON me.chat_id = chats.id AND me.user_id = ?", userID)

	if q := strings.ToLower(strings.TrimSpace(input.Query)); q != "" {
		query = query.
			Joins("JOIN chat_participants peer ON peer.chat_id = chats.id AND peer.user_id <> ?", userID).
			Joins("JOIN users peer_user ON peer_user.id = peer.user_id").
			Where("LOWER(peer_user.name) LIKE ? ESCAPE '!'", "%"+escapeLike(q)+"%")
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("chat service: count chats: %w", err)
	}

	var chats []models.Chat
	if err := s.withParticipants(query).
		Select("chats.*").
		Order("COALESCE(chats.last_message_at, chats.created_at) DESC").
		Order("chats.id").
		Limit(limit).
		Offset(offset).
		Find(&chats).Error; err != nil {
		return nil, 0, fmt.Errorf("chat service: list chats: %w", err)
	}

	out := make([]ChatDTO, 0, len(chats))
	for i := range chats {
		out = append(out, mapChat(&chats[i], userID))
	}
	return out, total, nil
}

// Search is List filtered by the peer's name.
func (s *ChatService) Search(ctx context.Context, userID, query string, limit, offset int) ([]ChatDTO, int64, error) {
	if strings.TrimSpace(query) == "" {
		return nil, 0, apperrors.NewBadRequest("q is required")
	}
	return s.List(ctx, userID, ListChatsInput{Query: query, Limit: limit, Offset: offset})
}

func (s *ChatService) withParticipants(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Participants", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("chat_participants.created_at ASC").Order("chat_participants.user_id ASC")
		}).
		Preload("Participants.User")
}

// SendMessage appends a message to the chat and pushes it to the chat room.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (MessageDTO, Delivery, error) {
	ctx = ensureContext(ctx)

	input.ChatID = strings.TrimSpace(input.ChatID)
	input.SenderID = strings.TrimSpace(input.SenderID)
	input.Content = strings.TrimSpace(input.Content)
	if err := validateInput(input); err != nil {
		return MessageDTO{}, "", err
	}
	if input.Content == "" {
		return MessageDTO{}, "", apperrors.NewBadRequest("Message content cannot be empty")
	}
	if runeLen(input.Content) > maxChatMessageLength {
		return MessageDTO{}, "", apperrors.NewBadRequest(fmt.Sprintf("Message content exceeds %d characters", maxChatMessageLength))
	}

	if err := s.EnsureParticipant(ctx, input.ChatID, input.SenderID); err != nil {
		return MessageDTO{}, "", err
	}

	now := utcNow(s.now)
	message := &models.Message{
		BaseModel: models.BaseModel{CreatedAt: now, UpdatedAt: now},
		ChatID:    input.ChatID,
		SenderID:  input.SenderID,
		Content:   input.Content,
		Status:    models.MessageStatusSent,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Chat{}).
			Where("id = ?", input.ChatID).
			UpdateColumn("message_seq", gorm.Expr("message_seq + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("allocate sequence: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NewNotFound("chat")
		}

		var chat models.Chat
		if err := tx.Select("id", "message_seq").Take(&chat, "id = ?", input.ChatID).Error; err != nil {
			return fmt.Errorf("read sequence: %w", err)
		}
		message.Seq = chat.MessageSeq

		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}

		if err := tx.Model(&models.Chat{}).
			Where("id = ?", input.ChatID).
			Updates(map[string]any{
				"last_message_id": message.ID,
				"last_message_at": message.CreatedAt,
				"updated_at":      now,
			}).Error; err != nil {
			return fmt.Errorf("update chat: %w", err)
		}

		if err := tx.Model(&models.ChatParticipant{}).
			Where("chat_id = ? AND user_id <> ?", input.ChatID, input.SenderID).
			UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("increment unread: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return MessageDTO{}, "", apperrors.NewNotFound("chat")
		}
		return MessageDTO{}, "", fmt.Errorf("chat service: send message: %w", err)
	}

	dto, err := s.reloadMessage(ctx, message.ID)
	if err != nil {
		return MessageDTO{}, "", fmt.Errorf("chat service: %w", err)
	}

	delivery := s.fanout.send(ctx, push{
		room:  realtime.ChatRoom(input.ChatID),
		event: realtime.EventMessageCreated,
		data:  dto,
	})
	return dto, delivery, nil
}

func (s *ChatService) reloadMessage(ctx context.Context, id string) (MessageDTO, error) {
	var row models.Message
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return MessageDTO{}, fmt.Errorf("load message: %w", err)
	}
	dtos, err := populateMessages(ctx, s.db, []models.Message{row})
	if err != nil {
		return MessageDTO{}, err
	}
	return dtos[0], nil
}

// ListMessages returns messages in send order. Listing is read-only; status changes only through
// MarkRead.
func (s *ChatService) ListMessages(ctx context.Context, input ListMessagesInput) ([]MessageDTO, error) {
	ctx = ensureContext(ctx)

	chatID := strings.TrimSpace(input.ChatID)
	userID := strings.TrimSpace(input.UserID)
	if err := s.EnsureParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = defaultMessagePageSize
	}

	query := s.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if input.BeforeSeq > 0 {
		query = query.Where("seq < ?", input.BeforeSeq)
	}

	var rows []models.Message
	if err := query.Order("seq DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("chat service: list messages: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}

	dtos, err := populateMessages(ctx, s.db, rows)
	if err != nil {
		return nil, fmt.Errorf("chat service: %w", err)
	}
	return dtos, nil
}

// MarkRead records read receipts for every message the user has not read yet and resets the
// user's unread counter. Applying it again changes nothing and publishes nothing.
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID string) (ReadReceipt, Delivery, error) {
	ctx = ensureContext(ctx)

	chatID = strings.TrimSpace(chatID)
	userID = strings.TrimSpace(userID)
	if err := s.EnsureParticipant(ctx, chatID, userID); err != nil {
		return ReadReceipt{}, "", err
	}

	now := utcNow(s.now)
	var (
		written  int64
		changed  bool
		lastSeen *time.Time
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var unread []string
		if err := tx.Model(&models.Message{}).
			Where("chat_id = ? AND sender_id <> ?", chatID, userID).
			Where("NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = messages.id AND mr.user_id = ?)", userID).
			Order("seq ASC").
			Pluck("id", &unread).Error; err != nil {
			return fmt.Errorf("load unread messages: %w", err)
		}

		if len(unread) > 0 {
			receipts := make([]models.MessageRead, 0, len(unread))
			for _, id := range unread {
				receipts = append(receipts, models.MessageRead{
					MessageID: id,
					UserID:    userID,
					ChatID:    chatID,
					ReadAt:    now,
				})
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&receipts, receiptBatchSize)
			if res.Error != nil {
				return fmt.Errorf("insert receipts: %w", res.Error)
			}
			written = res.RowsAffected
		}

		if written == 0 {
			// Nothing new to acknowledge; only repair a stale counter.
			res := tx.Model(&models.ChatParticipant{}).
				Where("chat_id = ? AND user_id = ? AND unread_count <> 0", chatID, userID).
				UpdateColumn("unread_count", 0)
			if res.Error != nil {
				return fmt.Errorf("reset unread: %w", res.Error)
			}
			changed = res.RowsAffected > 0

			var participant models.ChatParticipant
			if err := tx.Select("last_seen_at").
				Where("chat_id = ? AND user_id = ?", chatID, userID).
				Take(&participant).Error; err != nil {
				return fmt.Errorf("load participant: %w", err)
			}
			lastSeen = participant.LastSeenAt
			return nil
		}

		changed = true
		if err := tx.Exec(`UPDATE messages SET status = ?
			WHERE chat_id = ? AND status <> ?
			AND NOT EXISTS (
				SELECT 1 FROM chat_participants cp
				WHERE cp.chat_id = messages.chat_id
				AND cp.user_id <> messages.sender_id
				AND NOT EXISTS (
					SELECT 1 FROM message_reads mr
					WHERE mr.message_id = messages.id AND mr.user_id = cp.user_id
				)
			)`,
			models.MessageStatusRead, chatID, models.MessageStatusRead).Error; err != nil {
			return fmt.Errorf("update message status: %w", err)
		}

		if err := tx.Model(&models.ChatParticipant{}).
			Where("chat_id = ? AND user_id = ?", chatID, userID).
			Updates(map[string]any{"unread_count": 0, "last_seen_at": now}).Error; err != nil {
			return fmt.Errorf("reset unread: %w", err)
		}
		return nil
	})
	if err != nil {
		return ReadReceipt{}, "", fmt.Errorf("chat service: mark read: %w", err)
	}

	receipt := ReadReceipt{ChatID: chatID, UserID: userID, ReadAt: now, Count: written}
	if written == 0 && lastSeen != nil {
		receipt.ReadAt = lastSeen.UTC()
	}
	if !changed {
		return receipt, DeliveryPushed, nil
	}
	delivery := s.fanout.send(ctx, push{
		room:  realtime.ChatRoom(chatID),
		event: realtime.EventMessageRead,
		data:  receipt,
	})
	return receipt, delivery, nil
}

func mapChat(chat *models.Chat, viewerID string) ChatDTO {
	dto := ChatDTO{
		ID:            chat.ID,
		Participants:  make([]ParticipantDTO, 0, len(chat.Participants)),
		LastMessageID: chat.LastMessageID,
		LastMessageAt: chat.LastMessageAt,
		CreatedAt:     chat.CreatedAt,
	}
	for i := range chat.Participants {
		participant := &chat.Participants[i]
		summary := UserSummary{ID: participant.UserID}
		if user := mapUserSummary(participant.User); user != nil {
			summary = *user
		}
		dto.Participants = append(dto.Participants, ParticipantDTO{
			User:        summary,
			UnreadCount: participant.UnreadCount,
			LastSeenAt:  participant.LastSeenAt,
		})
		if participant.UserID == viewerID {
			dto.UnreadCount = participant.UnreadCount
		} else {
			peer := summary
			dto.Peer = &peer
		}
	}
	return dto
}

func populateMessages(ctx context.Context, db *gorm.DB, rows []models.Message) ([]MessageDTO, error) {
	if len(rows) == 0 {
		return []MessageDTO{}, nil
	}

	chatIDs := make([]string, 0, 1)
	userIDs := make([]string, 0, len(rows)+2)
	for _, row := range rows {
		chatIDs = append(chatIDs, row.ChatID)
		userIDs = append(userIDs, row.SenderID)
	}

	var participants []models.ChatParticipant
	if err := db.WithContext(ctx).
		Where("chat_id IN ?", normaliseIDs(chatIDs)).
		Order("created_at ASC").
		Order("user_id ASC").
		Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	for _, participant := range participants {
		userIDs = append(userIDs, participant.UserID)
	}

	loaded, err := loadRefs(ctx, db, userIDs, nil)
	if err != nil {
		return nil, err
	}

	summary := func(id string) UserSummary {
		if user := mapUserSummary(loaded.users[id]); user != nil {
			return *user
		}
		return UserSummary{ID: id}
	}

	chats := make(map[string]*ChatSummary)
	for _, participant := range participants {
		chat, ok := chats[participant.ChatID]
		if !ok {
			chat = &ChatSummary{ID: participant.ChatID}
			chats[participant.ChatID] = chat
		}
		chat.Participants = append(chat.Participants, summary(participant.UserID))
	}

	out := make([]MessageDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, MessageDTO{
			ID:        row.ID,
			ChatID:    row.ChatID,
			SenderID:  row.SenderID,
			Sender:    summary(row.SenderID),
			Content:   row.Content,
			Seq:       row.Seq,
			Status:    row.Status,
			CreatedAt: row.CreatedAt,
			Chat:      chats[row.ChatID],
		})
	}
	return out, nil
}
