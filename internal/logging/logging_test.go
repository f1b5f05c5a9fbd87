package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantLevel logrus.Level
		wantErr   bool
	}{
		{name: "defaults", opts: Options{}, wantLevel: logrus.InfoLevel},
		{name: "debug text", opts: Options{Level: "DEBUG", Format: "text", File: "stderr"}, wantLevel: logrus.DebugLevel},
		{name: "bad level", opts: Options{Level: "loud"}, wantErr: true},
		{name: "bad format", opts: Options{Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if l.GetLevel() != tt.wantLevel {
				t.Errorf("level = %v, want %v", l.GetLevel(), tt.wantLevel)
			}
		})
	}
}

func TestNewFileOutputRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monitor.log")
	l, err := New(Options{File: path, MaxAge: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	lj, ok := l.Out.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("output = %T, want *lumberjack.Logger", l.Out)
	}
	if lj.Filename != path || lj.MaxAge != 3 {
		t.Errorf("lumberjack = %+v", lj)
	}

	l.Info("hello")
	if err := lj.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file not written: %v", err)
	}
}
