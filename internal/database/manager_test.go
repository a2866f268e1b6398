package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roomrelay/pkg/database"
	"roomrelay/pkg/interfaces"
	"roomrelay/pkg/types"
)

var _ interfaces.MessageStore = (*Manager)(nil)

func testConfig(t *testing.T) *database.Config {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "data", "test.db")
	cfg.WriteTimeout = 5 * time.Second
	return cfg
}

func setupTestDB(t *testing.T, maxMessages int) *Manager {
	t.Helper()
	manager, err := NewManager(context.Background(), testConfig(t), maxMessages)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func message(id, user, room string, section types.Section) types.Message {
	return types.Message{
		ID:        id,
		Username:  user,
		Body:      "body-" + id,
		Timestamp: time.Now().UnixMilli(),
		Room:      room,
		Type:      types.KindText,
		UserCity:  "Ankara",
		Section:   section,
	}
}

func TestManager_AppendAndHistory(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t, 0)

	media := message("x1", "ayse", "Ankara", types.SectionMedia)
	media.Type = types.KindMedia
	media.MediaURL = "blob:https://example/abc"
	media.Body = ""

	require.NoError(t, m.Append(ctx, message("c1", "ayse", "Ankara", types.SectionChat)))
	require.NoError(t, m.Append(ctx, media))
	require.NoError(t, m.Append(ctx, message("c2", "mehmet", "Ankara", types.SectionChat)))

	chat, err := m.History(ctx, "Ankara", types.SectionChat)
	require.NoError(t, err)
	require.Len(t, chat, 2)
	require.Equal(t, "c1", chat[0].ID)
	require.Equal(t, "c2", chat[1].ID)
	require.Equal(t, "Ankara", chat[0].UserCity)
	require.Empty(t, chat[0].MediaURL)

	got, err := m.History(ctx, "Ankara", types.SectionMedia)
	require.NoError(t, err)
	require.Equal(t, []types.Message{media}, got)

	empty, err := m.History(ctx, "Bursa", types.SectionChat)
	require.NoError(t, err)
	require.NotNil(t, empty)
	require.Empty(t, empty)
}

func TestManager_HistoryFollowsArrivalOrderNotTimestamp(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t, 0)

	late := message("late", "ayse", "Ankara", types.SectionChat)
	late.Timestamp = 2000
	early := message("early", "ayse", "Ankara", types.SectionChat)
	early.Timestamp = 1000

	require.NoError(t, m.Append(ctx, late))
	require.NoError(t, m.Append(ctx, early))

	got, err := m.History(ctx, "Ankara", types.SectionChat)
	require.NoError(t, err)
	require.Equal(t, "late", got[0].ID)
	require.Equal(t, "early", got[1].ID)
}

func TestManager_SoftDelete(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t, 0)
	original := message("m1", "ayse", "Ankara", types.SectionChat)
	require.NoError(t, m.Append(ctx, original))

	updated, err := m.SoftDelete(ctx, "Ankara", types.SectionChat, "m1", "ayse", types.DefaultDeletedPlaceholder)
	require.NoError(t, err)
	require.Equal(t, original.ID, updated.ID)
	require.Equal(t, original.Timestamp, updated.Timestamp)
	require.Equal(t, types.KindDeleted, updated.Type)
	require.Equal(t, types.DefaultDeletedPlaceholder, updated.Body)
	require.True(t, updated.Deleted)

	stored, err := m.History(ctx, "Ankara", types.SectionChat)
	require.NoError(t, err)
	require.Equal(t, updated, stored[0])

	again, err := m.SoftDelete(ctx, "Ankara", types.SectionChat, "m1", "ayse", "other")
	require.ErrorIs(t, err, interfaces.ErrAlreadyDeleted)
	require.Equal(t, updated, again)
}

func TestManager_SoftDeleteForbiddenAndNotFound(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t, 0)
	original := message("m1", "ayse", "Ankara", types.SectionChat)
	require.NoError(t, m.Append(ctx, original))

	_, err := m.SoftDelete(ctx, "Ankara", types.SectionChat, "m1", "mehmet", types.DefaultDeletedPlaceholder)
	require.ErrorIs(t, err, interfaces.ErrForbidden)

	_, err = m.SoftDelete(ctx, "Ankara", types.SectionChat, "missing", "ayse", types.DefaultDeletedPlaceholder)
	require.ErrorIs(t, err, interfaces.ErrMessageNotFound)

	_, err = m.SoftDelete(ctx, "Ankara", types.SectionMedia, "m1", "ayse", types.DefaultDeletedPlaceholder)
	require.ErrorIs(t, err, interfaces.ErrMessageNotFound)

	stored, _ := m.History(ctx, "Ankara", types.SectionChat)
	require.Equal(t, original, stored[0])
}

func TestManager_Retention(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t, 2)

	for i := 1; i <= 4; i++ {
		require.NoError(t, m.Append(ctx, message(fmt.Sprintf("m%d", i), "ayse", "Ankara", types.SectionChat)))
	}
	require.NoError(t, m.Append(ctx, message("other", "ayse", "Ankara", types.SectionMedia)))

	got, err := m.History(ctx, "Ankara", types.SectionChat)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "m3", got[0].ID)
	require.Equal(t, "m4", got[1].ID)

	media, _ := m.History(ctx, "Ankara", types.SectionMedia)
	require.Len(t, media, 1)
}

func TestManager_OpenClearsPreviousRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := NewManager(ctx, cfg, 0)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, message("m1", "ayse", "Ankara", types.SectionChat)))
	require.NoError(t, first.Close())

	second, err := NewManager(ctx, cfg, 0)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	got, err := second.History(ctx, "Ankara", types.SectionChat)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestManager_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	m := setupTestDB(t, 0)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := m.Append(ctx, message(fmt.Sprintf("%d-%d", w, i), "ayse", "Ankara", types.SectionChat)); err != nil {
					errs <- err
				}
				if _, err := m.History(ctx, "Ankara", types.SectionChat); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	got, err := m.History(ctx, "Ankara", types.SectionChat)
	require.NoError(t, err)
	require.Len(t, got, 100)
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, testConfig(t), 0)
	require.NoError(t, err)

	require.NoError(t, m.HealthCheck(ctx))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "second close is a no-op")

	require.ErrorIs(t, m.HealthCheck(ctx), interfaces.ErrStoreClosed)
	require.ErrorIs(t, m.Append(ctx, message("m1", "ayse", "Ankara", types.SectionChat)), interfaces.ErrStoreClosed)
	_, err = m.History(ctx, "Ankara", types.SectionChat)
	require.ErrorIs(t, err, interfaces.ErrStoreClosed)
}

func TestManager_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabasePath = ""
	_, err := NewManager(context.Background(), cfg, 0)
	require.Error(t, err)
}

func TestManager_TimedOutWritesAreNotStored(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.WriteTimeout = 200 * time.Microsecond
	m, err := NewManager(ctx, cfg, 0)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	const total = 200
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]error, total)
	)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m%d", i)
			err := m.Append(ctx, message(id, "ayse", "Ankara", types.SectionChat))
			mu.Lock()
			results[id] = err
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	got, err := m.History(ctx, "Ankara", types.SectionChat)
	require.NoError(t, err)
	stored := make(map[string]bool, len(got))
	for _, msg := range got {
		stored[msg.ID] = true
	}

	for id, err := range results {
		if err == nil {
			require.True(t, stored[id], "append %s succeeded but is missing", id)
			continue
		}
		require.ErrorIs(t, err, ErrWriteTimeout)
		require.False(t, stored[id], "append %s reported a timeout but was stored", id)
	}
}

func TestManager_SoftDeleteUnderTimeoutPressure(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	m, err := NewManager(ctx, cfg, 0)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Append(ctx, message(fmt.Sprintf("m%d", i), "ayse", "Ankara", types.SectionChat)))
	}
	m.config.WriteTimeout = 200 * time.Microsecond

	var wg sync.WaitGroup
	returned := make([]types.Message, 50)
	errs := make([]error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			returned[i], errs[i] = m.SoftDelete(ctx, "Ankara", types.SectionChat, fmt.Sprintf("m%d", i), "ayse", types.DefaultDeletedPlaceholder)
		}(i)
	}
	wg.Wait()

	deleted := make([]bool, 50)
	for i, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrWriteTimeout)
			continue
		}
		require.True(t, returned[i].Deleted)
		deleted[i] = true
	}

	got, err := m.History(ctx, "Ankara", types.SectionChat)
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, msg := range got {
		require.Equal(t, deleted[i], msg.Deleted, "message %s", msg.ID)
	}
}

func TestManager_CloseReleasesQueuedWrites(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, testConfig(t), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- m.Append(ctx, message(fmt.Sprintf("m%d", i), "ayse", "Ankara", types.SectionChat))
		}(i)
	}
	require.NoError(t, m.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, interfaces.ErrStoreClosed)
		}
	}
}
