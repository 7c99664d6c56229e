package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/database/testutil"
	"github.com/charlesng35/foodbridge/internal/models"
	"github.com/charlesng35/foodbridge/internal/realtime"
	apperrors "github.com/charlesng35/foodbridge/pkg/errors"
)

type chatFixture struct {
	db        *gorm.DB
	publisher *recordingPublisher
	svc       *ChatService
	alice     *models.User
	bob       *models.User
	chat      ChatDTO
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	publisher := &recordingPublisher{}
	svc, err := NewChatService(db, publisher)
	require.NoError(t, err)

	alice := seedUser(t, db, "Alice", models.RoleRestaurant)
	bob := seedUser(t, db, "Bob", models.RoleCharity)

	chat, err := svc.Open(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	return &chatFixture{db: db, publisher: publisher, svc: svc, alice: alice, bob: bob, chat: chat}
}

func (f *chatFixture) send(t *testing.T, sender *models.User, content string) MessageDTO {
	t.Helper()
	message, _, err := f.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID:   f.chat.ID,
		SenderID: sender.ID,
		Content:  content,
	})
	require.NoError(t, err)
	return message
}

type readState struct {
	receipts []string
	statuses map[string]string
	unread   map[string]int
	seenAt   map[string]time.Time
}

func snapshotReadState(t *testing.T, db *gorm.DB, chatID string) readState {
	t.Helper()
	var receipts []models.MessageRead
	require.NoError(t, db.Where("chat_id = ?", chatID).Order("message_id, user_id").Find(&receipts).Error)
	var messages []models.Message
	require.NoError(t, db.Where("chat_id = ?", chatID).Find(&messages).Error)
	var participants []models.ChatParticipant
	require.NoError(t, db.Where("chat_id = ?", chatID).Find(&participants).Error)

	state := readState{statuses: map[string]string{}, unread: map[string]int{}, seenAt: map[string]time.Time{}}
	for _, r := range receipts {
		state.receipts = append(state.receipts, r.MessageID+"/"+r.UserID)
	}
	for _, m := range messages {
		state.statuses[m.ID] = m.Status
	}
	for _, p := range participants {
		state.unread[p.UserID] = p.UnreadCount
		if p.LastSeenAt != nil {
			state.seenAt[p.UserID] = p.LastSeenAt.UTC()
		}
	}
	return state
}

func TestChatService_OpenIsSymmetricAndIdempotent(t *testing.T) {
	f := newChatFixture(t)

	again, err := f.svc.Open(context.Background(), f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	require.Equal(t, f.chat.ID, again.ID)
	require.Equal(t, f.alice.ID, again.Peer.ID)
	require.Len(t, again.Participants, 2)
	require.Equal(t, int64(1), countRows(t, f.db, &models.Chat{}, ""))

	_, err = f.svc.Open(context.Background(), f.alice.ID, f.alice.ID)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = f.svc.Open(context.Background(), f.alice.ID, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestChatService_ListedOrderMatchesSendOrder(t *testing.T) {
	f := newChatFixture(t)
	// Every message shares one timestamp so only the sequence decides order.
	f.svc.now = fixedClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	var sent []string
	for i := 0; i < 6; i++ {
		sender := f.alice
		if i%2 == 1 {
			sender = f.bob
		}
		content := fmt.Sprintf("message %d", i)
		message := f.send(t, sender, content)
		require.Equal(t, int64(i+1), message.Seq)
		sent = append(sent, content)
	}

	listed, err := f.svc.ListMessages(context.Background(), ListMessagesInput{ChatID: f.chat.ID, UserID: f.alice.ID})
	require.NoError(t, err)
	require.Len(t, listed, len(sent))
	for i, message := range listed {
		require.Equal(t, sent[i], message.Content)
	}

	page, err := f.svc.ListMessages(context.Background(), ListMessagesInput{ChatID: f.chat.ID, UserID: f.alice.ID, BeforeSeq: 5, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"message 2", "message 3"}, []string{page[0].Content, page[1].Content})
}

func TestChatService_PushedMessageEqualsListedMessage(t *testing.T) {
	f := newChatFixture(t)

	returned := f.send(t, f.alice, "  fresh bread at the back door  ")

	pushed := f.publisher.byEvent(realtime.EventMessageCreated)
	require.Len(t, pushed, 1)
	require.Equal(t, realtime.ChatRoom(f.chat.ID), pushed[0].Room)
	payload := pushed[0].Data.(MessageDTO)
	require.Equal(t, returned, payload)
	require.Equal(t, "fresh bread at the back door", payload.Content)
	require.Equal(t, "Alice", payload.Sender.Name)
	require.Len(t, payload.Chat.Participants, 2)

	for _, viewer := range []*models.User{f.alice, f.bob} {
		listed, err := f.svc.ListMessages(context.Background(), ListMessagesInput{ChatID: f.chat.ID, UserID: viewer.ID})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		require.Equal(t, payload, listed[0], "listed by %s", viewer.Name)
	}
}

func TestChatService_SendMessageRules(t *testing.T) {
	f := newChatFixture(t)
	outsider := seedUser(t, f.db, "Mallory", models.RoleCharity)

	_, _, err := f.svc.SendMessage(context.Background(), SendMessageInput{ChatID: f.chat.ID, SenderID: outsider.ID, Content: "hi"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, _, err = f.svc.SendMessage(context.Background(), SendMessageInput{ChatID: "missing", SenderID: f.alice.ID, Content: "hi"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, _, err = f.svc.SendMessage(context.Background(), SendMessageInput{ChatID: f.chat.ID, SenderID: f.alice.ID, Content: "   "})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, _, err = f.svc.SendMessage(context.Background(), SendMessageInput{
		ChatID: f.chat.ID, SenderID: f.alice.ID, Content: strings.Repeat("é", maxChatMessageLength+1),
	})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	longest := f.send(t, f.alice, strings.Repeat("é", maxChatMessageLength))
	require.Equal(t, int64(1), longest.Seq)
	require.Equal(t, 1, f.publisher.count())
}

func TestChatService_ListingMessagesLeavesStatusAlone(t *testing.T) {
	f := newChatFixture(t)
	first := f.send(t, f.alice, "one")
	f.send(t, f.alice, "two")

	chats, total, err := f.svc.List(context.Background(), f.bob.ID, ListChatsInput{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, 2, chats[0].UnreadCount)
	require.Equal(t, models.MessageStatusSent, first.Status)

	own, err := f.svc.ListMessages(context.Background(), ListMessagesInput{ChatID: f.chat.ID, UserID: f.alice.ID})
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusSent, own[0].Status)

	before := snapshotReadState(t, f.db, f.chat.ID)
	received, err := f.svc.ListMessages(context.Background(), ListMessagesInput{ChatID: f.chat.ID, UserID: f.bob.ID})
	require.NoError(t, err)
	for _, message := range received {
		require.Equal(t, models.MessageStatusSent, message.Status)
	}
	require.Equal(t, before, snapshotReadState(t, f.db, f.chat.ID))
}

func TestChatService_MarkReadIsIdempotent(t *testing.T) {
	f := newChatFixture(t)
	f.send(t, f.alice, "one")
	f.send(t, f.alice, "two")
	f.send(t, f.bob, "three")

	firstRead := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	f.svc.now = fixedClock(firstRead)
	receipt, delivery, err := f.svc.MarkRead(context.Background(), f.chat.ID, f.bob.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryPushed, delivery)
	require.Equal(t, int64(2), receipt.Count)
	once := snapshotReadState(t, f.db, f.chat.ID)
	require.Len(t, once.receipts, 2)
	require.Zero(t, once.unread[f.bob.ID])
	require.Equal(t, 1, once.unread[f.alice.ID])
	require.Equal(t, firstRead, once.seenAt[f.bob.ID])

	f.svc.now = fixedClock(firstRead.Add(time.Hour))
	again, delivery, err := f.svc.MarkRead(context.Background(), f.chat.ID, f.bob.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryPushed, delivery)
	require.Zero(t, again.Count)
	require.True(t, firstRead.Equal(again.ReadAt))
	require.Equal(t, once, snapshotReadState(t, f.db, f.chat.ID))

	pushed := f.publisher.byEvent(realtime.EventMessageRead)
	require.Len(t, pushed, 1)
	require.Equal(t, realtime.ChatRoom(f.chat.ID), pushed[0].Room)
	require.Equal(t, receipt, pushed[0].Data.(ReadReceipt))

	var read int64
	require.NoError(t, f.db.Model(&models.Message{}).
		Where("chat_id = ? AND status = ?", f.chat.ID, models.MessageStatusRead).
		Count(&read).Error)
	require.Equal(t, int64(2), read)
}

func TestChatService_MarkReadRepairsStaleCounterOnce(t *testing.T) {
	f := newChatFixture(t)
	require.NoError(t, f.db.Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", f.chat.ID, f.bob.ID).
		UpdateColumn("unread_count", 3).Error)

	for i := 0; i < 2; i++ {
		receipt, _, err := f.svc.MarkRead(context.Background(), f.chat.ID, f.bob.ID)
		require.NoError(t, err)
		require.Zero(t, receipt.Count)
	}

	state := snapshotReadState(t, f.db, f.chat.ID)
	require.Zero(t, state.unread[f.bob.ID])
	require.NotContains(t, state.seenAt, f.bob.ID)
	require.Len(t, f.publisher.byEvent(realtime.EventMessageRead), 1)
}

func TestChatService_ConcurrentMarkReadKeepsBothReceipts(t *testing.T) {
	f := newChatFixture(t)
	f.send(t, f.alice, "from alice")
	f.send(t, f.bob, "from bob")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, user := range []*models.User{f.alice, f.bob} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, _, err := f.svc.MarkRead(context.Background(), f.chat.ID, userID)
			errs <- err
		}(user.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	state := snapshotReadState(t, f.db, f.chat.ID)
	require.Len(t, state.receipts, 2)
	for _, status := range state.statuses {
		require.Equal(t, models.MessageStatusRead, status)
	}
	require.Equal(t, map[string]int{f.alice.ID: 0, f.bob.ID: 0}, state.unread)
}

func TestChatService_MarkReadRequiresParticipant(t *testing.T) {
	f := newChatFixture(t)
	outsider := seedUser(t, f.db, "Mallory", models.RoleCharity)

	_, _, err := f.svc.MarkRead(context.Background(), f.chat.ID, outsider.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.Zero(t, f.publisher.count())
}

func TestChatService_ListOrdersByActivityAndSearches(t *testing.T) {
	f := newChatFixture(t)
	carol := seedUser(t, f.db, "Carol Pantry", models.RoleCharity)

	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return clock }

	withCarol, err := f.svc.Open(context.Background(), f.alice.ID, carol.ID)
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	f.send(t, f.alice, "older")

	clock = clock.Add(time.Minute)
	_, _, err = f.svc.SendMessage(context.Background(), SendMessageInput{ChatID: withCarol.ID, SenderID: carol.ID, Content: "newer"})
	require.NoError(t, err)

	chats, total, err := f.svc.List(context.Background(), f.alice.ID, ListChatsInput{})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, withCarol.ID, chats[0].ID)
	require.Equal(t, f.chat.ID, chats[1].ID)
	require.Equal(t, 1, chats[0].UnreadCount)

	found, total, err := f.svc.Search(context.Background(), f.alice.ID, "pantry", 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, withCarol.ID, found[0].ID)
	require.Equal(t, "Carol Pantry", found[0].Peer.Name)

	_, _, err = f.svc.Search(context.Background(), f.alice.ID, " ", 0, 0)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	bobs, _, err := f.svc.List(context.Background(), f.bob.ID, ListChatsInput{})
	require.NoError(t, err)
	require.Len(t, bobs, 1)
}

func TestChatService_SearchTreatsWildcardsLiterally(t *testing.T) {
	f := newChatFixture(t)
	underscored := seedUser(t, f.db, "Soup_Kitchen", models.RoleCharity)
	percent := seedUser(t, f.db, "100% Pantry", models.RoleCharity)
	for _, peer := range []*models.User{underscored, percent} {
		_, err := f.svc.Open(context.Background(), f.alice.ID, peer.ID)
		require.NoError(t, err)
	}

	cases := []struct {
		query string
		want  []string
	}{
		{query: "%", want: []string{"100% Pantry"}},
		{query: "_", want: []string{"Soup_Kitchen"}},
		{query: "p_n", want: nil},
		{query: "!", want: nil},
		{query: "0% p", want: []string{"100% Pantry"}},
	}
	for _, tc := range cases {
		found, total, err := f.svc.Search(context.Background(), f.alice.ID, tc.query, 0, 0)
		require.NoError(t, err, tc.query)
		var names []string
		for _, chat := range found {
			names = append(names, chat.Peer.Name)
		}
		require.Equal(t, tc.want, names, tc.query)
		require.Equal(t, int64(len(tc.want)), total, tc.query)
	}
}
