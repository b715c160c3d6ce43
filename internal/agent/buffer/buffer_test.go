package buffer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func event(t *testing.T, msg string) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]any{
		"event_type":  "ssh_failed_login",
		"raw_message": msg,
	})
	require.NoError(t, err)
	return s
}

func messages(events []*structpb.Struct) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.GetFields()["raw_message"].GetStringValue()
	}
	return out
}

func TestDiskBuffer_FIFO(t *testing.T) {
	b, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Write([]*structpb.Struct{event(t, "one"), event(t, "two"), event(t, "three")}))
	assert.Equal(t, 3, b.Len())

	got, err := b.Read(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, messages(got))
	assert.Equal(t, 1, b.Len())

	require.NoError(t, b.Write([]*structpb.Struct{event(t, "four")}))
	got, err = b.Read(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four"}, messages(got))
	assert.Equal(t, 0, b.Len())

	got, err = b.Read(10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiskBuffer_Persistence(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, b.Write([]*structpb.Struct{event(t, "a"), event(t, "b"), event(t, "c")}))
	_, err = b.Read(1)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, 2, b.Len())
	got, err := b.Read(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, messages(got))
}

func TestDiskBuffer_TornRecord(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, b.Write([]*structpb.Struct{event(t, "whole")}))
	require.NoError(t, b.Close())

	f, err := os.OpenFile(filepath.Join(dir, fileName), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 50, 1, 2})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b, err = Open(Config{Dir: dir})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, 1, b.Len())
	got, err := b.Read(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"whole"}, messages(got))
}

func TestDiskBuffer_DropsOldestWhenFull(t *testing.T) {
	one := event(t, "event-00")
	b, err := Open(Config{Dir: t.TempDir(), MaxSize: 1})
	require.NoError(t, err)
	defer b.Close()

	// A record larger than the whole buffer is discarded.
	require.NoError(t, b.Write([]*structpb.Struct{one}))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 1, b.Dropped())
	require.NoError(t, b.Close())

	b, err = Open(Config{Dir: t.TempDir(), MaxSize: 200})
	require.NoError(t, err)
	defer b.Close()

	var batch []*structpb.Struct
	for i := range 20 {
		batch = append(batch, event(t, fmt.Sprintf("event-%02d", i)))
	}
	require.NoError(t, b.Write(batch))
	assert.Greater(t, b.Dropped(), 0)
	assert.Equal(t, 20-b.Dropped(), b.Len())

	got, err := b.Read(100)
	require.NoError(t, err)
	msgs := messages(got)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "event-19", msgs[len(msgs)-1])
}

func TestDiskBuffer_Closed(t *testing.T) {
	b, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Write([]*structpb.Struct{event(t, "x")}), ErrClosed)
	_, err = b.Read(1)
	assert.ErrorIs(t, err, ErrClosed)
}
