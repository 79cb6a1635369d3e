package app

import (
	"os"
	"path/filepath"
	"testing"

	"torrentsready/internal/config"
)

func TestGetDefaults(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name       string
		env        map[string]string
		wantConfig string
		wantBase   string
	}{
		{
			name: "explicit variables win",
			env: map[string]string{
				"TR_CONFIG_PATH":  "/custom/trd.toml",
				"TR_HOME":         "/custom/trd",
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			wantConfig: "/custom/trd.toml",
			wantBase:   "/custom/trd",
		},
		{
			name:       "xdg base directories",
			env:        map[string]string{"XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data"},
			wantConfig: "/xdg/config/trd.toml",
			wantBase:   "/xdg/data/trd",
		},
		{
			name:       "home directory",
			wantConfig: filepath.Join(homeDir, ".config", "trd.toml"),
			wantBase:   filepath.Join(homeDir, ".local", "share", "trd"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"TR_CONFIG_PATH", "TR_HOME", "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(k, tt.env[k])
			}

			d, err := GetDefaults()
			if err != nil {
				t.Fatalf("GetDefaults() error = %v", err)
			}
			if d.ConfigPath != tt.wantConfig {
				t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, tt.wantConfig)
			}
			if d.BaseDir != tt.wantBase {
				t.Errorf("BaseDir = %q, want %q", d.BaseDir, tt.wantBase)
			}
			if want := filepath.Join(tt.wantBase, "log"); d.LogDir != want {
				t.Errorf("LogDir = %q, want %q", d.LogDir, want)
			}
		})
	}
}

func TestDefaults_ConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := &Defaults{ConfigPath: filepath.Join(dir, "trd.toml"), BaseDir: filepath.Join(dir, "home")}

	if _, err := d.ReadConfig(); err == nil {
		t.Fatal("ReadConfig() before init error = nil")
	}
	if err := config.Init(d.ConfigPath, d.NewConfig("instance-1")); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	cfg, err := d.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}
	if cfg.InstanceID != "instance-1" || cfg.BaseDir != d.BaseDir {
		t.Errorf("ReadConfig() = instance %q base %q, want instance-1 at %s", cfg.InstanceID, cfg.BaseDir, d.BaseDir)
	}
}
