// internal/browser/context_test.go
package browser

import (
	"context"
	"testing"
	"time"
)

func TestCombineContextCancelsOnSecondary(t *testing.T) {
	primary := context.Background()
	secondary, secondaryCancel := context.WithCancel(context.Background())

	combined, cancel := CombineContext(primary, secondary)
	defer cancel()

	secondaryCancel()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not canceled after secondary cancellation")
	}
}

func TestCombineContextCancelsOnPrimary(t *testing.T) {
	primary, primaryCancel := context.WithCancel(context.Background())
	combined, cancel := CombineContext(primary, context.Background())
	defer cancel()

	primaryCancel()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not canceled after primary cancellation")
	}
}
