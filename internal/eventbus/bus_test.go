package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	posts, unsubPosts := b.Subscribe(4, PostSent, PostFailed)
	defer unsubPosts()

	b.Publish(Event{Type: JobArmed})
	b.Publish(Event{Type: PostSent, Data: "x"})

	require.Len(t, all, 2)
	require.Len(t, posts, 1)
	e := <-posts
	assert.Equal(t, PostSent, e.Type)
	assert.Equal(t, "x", e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: JobFired})
	b.Publish(Event{Type: JobFired})
	assert.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: JobFired})
}
