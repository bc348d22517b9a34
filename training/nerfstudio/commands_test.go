package nerfstudio

import (
	"strings"
	"testing"

	"splat-orchestrator/core/executor"
	"splat-orchestrator/core/models"
)

func testWorkspace() Workspace {
	return NewWorkspace("/home/ubuntu/", models.JobKey{UserID: "u1", ProjectName: "garden"}, DefaultProfile())
}

func TestWorkspacePaths(t *testing.T) {
	w := testWorkspace()
	tests := []struct{ got, want string }{
		{w.Dir(), "/home/ubuntu/u1/garden"},
		{w.ContainerDir(), "/workspace/u1/garden"},
		{w.ArchivePath(), "/home/ubuntu/u1/garden/garden.zip"},
		{w.PLYPath(), "/home/ubuntu/u1/garden/garden-mesh/splat.ply"},
		{w.SplatPath(), "/home/ubuntu/u1/garden/garden-mesh/splat.splat"},
		{w.ScriptPath(), "/home/ubuntu/u1/garden/ply_to_splat.py"},
		{w.ViewerURL("1.2.3.4"), "http://1.2.3.4:7007"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestCommandPolicies(t *testing.T) {
	w := testWorkspace()
	tests := []struct {
		name string
		cmd  Command
		want executor.FailurePolicy
	}{
		{"ssh", SSHKeepalive(), executor.PolicyStderrNonEmpty},
		{"pull", PullImage(w.Profile), executor.PolicyStderrNonEmpty},
		{"pip", InstallStorageCLI(), executor.PolicyExitStatus},
		{"run", w.StartContainer(), executor.PolicyStderrNonEmpty},
		{"download", w.DownloadDataset("s3://b/u1/garden"), executor.PolicyStderrNonEmpty},
		{"unzip", w.Unzip(), executor.PolicyStderrNonEmpty},
		{"rename", w.RenameVideo(), executor.PolicyStderrNonEmpty},
		{"process", w.ProcessData("abc"), executor.PolicyStderrContainsError},
		{"train", w.Train("abc"), executor.PolicyStderrContainsError},
		{"export", w.Export("abc"), executor.PolicyStderrContainsError},
		{"convert deps", InstallConvertDeps(), executor.PolicyExitStatus},
		{"convert", w.ConvertRemote(), executor.PolicyStderrContainsError},
		{"upload splat", w.UploadSplat("s3://b/k"), executor.PolicyStderrContainsError},
		{"upload mesh", w.UploadMesh("s3://b/k"), executor.PolicyStderrNonEmpty},
		{"stop", StopContainer("abc"), executor.PolicyStderrContainsError},
	}
	for _, tt := range tests {
		if tt.cmd.Policy != tt.want {
			t.Errorf("%s policy = %s, want %s", tt.name, tt.cmd.Policy, tt.want)
		}
	}
}

func TestStartContainer(t *testing.T) {
	got := testWorkspace().StartContainer().Text
	for _, want := range []string{
		"mkdir -p '/home/ubuntu/u1/garden' && cd '/home/ubuntu/u1/garden' && sudo docker run",
		"--gpus all",
		`-u "$(id -u)"`,
		"-v '/home/ubuntu:/workspace'",
		"-v '/home/ubuntu/.cache:/home/user/.cache'",
		"-p 7007:7007",
		"--rm -d --shm-size=40gb",
		"-e XDG_DATA_HOME=/workspace/.local/share",
		"-e XDG_CACHE_HOME=/workspace/.cache",
		"-e MPLCONFIGDIR=/workspace/.config/matplotlib",
		"'ghcr.io/nerfstudio-project/nerfstudio:latest' tail -f /dev/null",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("StartContainer() missing %q in:\n%s", want, got)
		}
	}
}

func TestTrainCommand(t *testing.T) {
	got := testWorkspace().Train("c0ffee").Text
	want := `sudo docker exec 'c0ffee' bash -c ` +
		executor.ShellQuote("cd '/workspace/u1/garden' && export USER=myuser && export LOGNAME=myuser && "+
			"ns-train 'splatfacto-big' --data 'garden-output' '--viewer.quit-on-train-completion' 'True' "+
			"'--pipeline.model.cull_alpha_thresh=0.005' '--pipeline.model.use_scale_regularization=True'")
	if got != want {
		t.Errorf("Train() =\n%s\nwant\n%s", got, want)
	}
}

func TestExportFormatsBoundingBox(t *testing.T) {
	got := testWorkspace().Export("c0ffee").Text
	for _, want := range []string{
		"--obb_center 0.0000000000 0.0000000000 0.0000000000",
		"--obb_rotation 0.0000000000 0.0000000000 0.0000000000",
		"--obb_scale 1.0000000000 1.0000000000 1.0000000000",
		"outputs/*/*/*/config.yml",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Export() missing %q in:\n%s", want, got)
		}
	}
}

func TestProfileValidate(t *testing.T) {
	if err := DefaultProfile().Validate(); err != nil {
		t.Fatalf("DefaultProfile().Validate() err=%v", err)
	}

	p := DefaultProfile()
	p.BoundingBox.Scale = []float64{1, 1}
	if err := p.Validate(); err == nil {
		t.Error("Validate() expected error for short obb scale")
	}

	p = DefaultProfile()
	p.ViewerPort = 0
	if err := p.Validate(); err == nil {
		t.Error("Validate() expected error for zero port")
	}
}
