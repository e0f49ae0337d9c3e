package app

import (
	"path/filepath"
	"testing"
)

func TestGetDefaults_FromEnv(t *testing.T) {
	t.Setenv("CERCASP_CONFIG_PATH", "/etc/cercasp/cercasp.toml")
	t.Setenv("CERCASP_HOME", "/srv/cercasp")

	d, err := GetDefaults()
	if err != nil {
		t.Fatalf("GetDefaults() error = %v", err)
	}
	if d.ConfigPath != "/etc/cercasp/cercasp.toml" {
		t.Errorf("ConfigPath = %q", d.ConfigPath)
	}
	if d.BaseDir != "/srv/cercasp" {
		t.Errorf("BaseDir = %q", d.BaseDir)
	}
	if d.LogDir != "/srv/cercasp/log" {
		t.Errorf("LogDir = %q", d.LogDir)
	}
}

func TestGetDefaults_FromHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CERCASP_CONFIG_PATH", "")
	t.Setenv("CERCASP_HOME", "")

	d, err := GetDefaults()
	if err != nil {
		t.Fatalf("GetDefaults() error = %v", err)
	}
	if want := filepath.Join(home, ".config", "cercasp.toml"); d.ConfigPath != want {
		t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, want)
	}
	if want := filepath.Join(home, ".local", "share", "cercasp"); d.BaseDir != want {
		t.Errorf("BaseDir = %q, want %q", d.BaseDir, want)
	}
}
