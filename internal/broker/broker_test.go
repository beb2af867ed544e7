package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Guizzs26/go-datasync/internal/models"
)

func TestRoutingKeys(t *testing.T) {
	key := RoutingKey("todos", models.OpReplace)
	assert.Equal(t, "datasync.table.todos.replace", key)
	assert.Equal(t, "datasync.table.todos.#", TablePattern("todos"))

	table, ok := TableFromRoutingKey(key)
	assert.True(t, ok)
	assert.Equal(t, "todos", table)

	for _, bad := range []string{"pax.unit.1.x", "datasync.table.", "datasync.table.todos"} {
		_, ok := TableFromRoutingKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestCoalescerMergesPerTable(t *testing.T) {
	c := NewCoalescer()
	assert.True(t, c.Add("todos"))
	assert.False(t, c.Add("todos"))
	assert.True(t, c.Add("notes"))
	assert.False(t, c.Add("todos"))
	assert.Equal(t, 2, c.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan string)
	go c.Forward(ctx, out)

	assert.Equal(t, "todos", <-out)
	assert.Equal(t, "notes", <-out)

	// Delivered tables can be queued again.
	assert.True(t, c.Add("todos"))
	select {
	case got := <-out:
		assert.Equal(t, "todos", got)
	case <-time.After(time.Second):
		t.Fatal("trigger was not delivered")
	}
}

func TestCoalescerKeepsTriggersWhileConsumerIsBusy(t *testing.T) {
	c := NewCoalescer()
	for range 100 {
		c.Add("todos")
		c.Add("notes")
		c.Add("tags")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan string)
	go c.Forward(ctx, out)

	var got []string
	for range 3 {
		got = append(got, <-out)
	}
	assert.Equal(t, []string{"todos", "notes", "tags"}, got)
	assert.Equal(t, 0, c.Pending())
}
