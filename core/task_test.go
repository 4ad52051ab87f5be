package core

import (
	"testing"
	"time"
)

func TestTaskExpired(t *testing.T) {
	now := time.Now()

	noDeadline := newTask(WorkItemFunc(func() {}), 0)
	if noDeadline.expired(now.Add(time.Hour)) {
		t.Fatal("a task with no expiration should never expire")
	}

	past := &Task{hasDeadline: true, expireAt: now.Add(-time.Second)}
	if !past.expired(now) {
		t.Fatal("a deadline in the past should be expired")
	}

	future := &Task{hasDeadline: true, expireAt: now.Add(time.Second)}
	if future.expired(now) {
		t.Fatal("a deadline in the future should not be expired yet")
	}
}
