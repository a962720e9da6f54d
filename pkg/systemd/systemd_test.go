package systemd

import (
	"context"
	"testing"
)

func TestNotifyOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	if sent, err := Ready(); sent || err != nil {
		t.Fatalf("Ready() = %v, %v", sent, err)
	}
	if sent, err := Status("ok"); sent || err != nil {
		t.Fatalf("Status() = %v, %v", sent, err)
	}
	if err := Watchdog(context.Background(), nil); err != nil {
		t.Fatalf("Watchdog() = %v", err)
	}
}
