package main

import (
	"context"
	"testing"

	"github.com/wndlink/wndlink/pkg/app"
	"github.com/wndlink/wndlink/pkg/config"
	domainlog "github.com/wndlink/wndlink/pkg/domain/logbook"
	"github.com/wndlink/wndlink/pkg/recordapi"
)

func TestConsoleLines(t *testing.T) {
	c := config.DefaultConfig()
	c.Storage.Driver = "memory"
	container, err := app.NewContainer(c, app.Overrides{Writer: recordapi.NewMemoryWriter()})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer container.Stop()
	ctx := context.Background()

	tests := []struct {
		line    string
		wantErr bool
	}{
		{"help", false},
		{"add wrn quota at 90%", false},
		{"add WRN", true},
		{"add XYZ something", true},
		{`send prefsChangedMsg {"theme":"dark"}`, false},
		{"send prefsChangedMsg {not json", true},
		{"status", false},
		{"pending", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := runConsoleLine(ctx, container, tt.line)
			if (err != nil) != tt.wantErr {
				t.Errorf("runConsoleLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
		})
	}

	if st := container.Logs.Stats()[domainlog.CategoryWarning]; st.Count != 1 {
		t.Errorf("expected one warning log, got %+v", st)
	}
	if container.Queue.PendingCount() != 1 {
		t.Errorf("expected the prefs request to be pending, got %d", container.Queue.PendingCount())
	}
}
