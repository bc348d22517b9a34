package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"splat-orchestrator/training/splat"
)

func TestSetupLogging(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "json", false},
		{"DEBUG", "pretty", false},
		{"warn", "", false},
		{"loud", "json", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			err := setupLogging(tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("setupLogging(%q, %q) err=%v, wantErr=%v", tt.level, tt.format, err, tt.wantErr)
			}
		})
	}
}

func writeTestPLY(t *testing.T, path string, vertices int) {
	t.Helper()
	props := []string{"x", "y", "z", "scale_0", "scale_1", "scale_2", "f_dc_0", "f_dc_1", "f_dc_2",
		"opacity", "rot_0", "rot_1", "rot_2", "rot_3"}
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\n")
	buf.WriteString("element vertex " + strconv.Itoa(vertices) + "\n")
	for _, p := range props {
		buf.WriteString("property float " + p + "\n")
	}
	buf.WriteString("end_header\n")
	for i := 0; i < vertices; i++ {
		for _, p := range props {
			v := float32(0)
			if p == "rot_0" {
				v = 1
			}
			binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "garden.ply")
	writeTestPLY(t, in, 3)

	cmd := rootCmd()
	cmd.SetArgs([]string{"convert", in})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("convert err=%v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "garden.splat"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 3*splat.RecordSize {
		t.Errorf("splat size = %d, want %d", len(data), 3*splat.RecordSize)
	}
}

func TestConvertCommandRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "broken.ply")
	if err := os.WriteFile(in, []byte("not a ply\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.splat")

	cmd := rootCmd()
	cmd.SetArgs([]string{"convert", in, out})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "broken.ply") {
		t.Fatalf("convert err=%v, want failure naming the input", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("partial output left behind: %v", err)
	}
}
