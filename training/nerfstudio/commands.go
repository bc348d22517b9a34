package nerfstudio

import (
	"fmt"
	"path"
	"strings"

	"splat-orchestrator/core/executor"
	"splat-orchestrator/core/models"
)

// Command is one remote shell command and the failure policy it is judged by
type Command struct {
	Text   string
	Policy executor.FailurePolicy
}

// Workspace locates a job's files on the instance and inside the container
type Workspace struct {
	Home    string
	Key     models.JobKey
	Profile Profile
}

// NewWorkspace creates a workspace rooted at home for key
func NewWorkspace(home string, key models.JobKey, profile Profile) Workspace {
	return Workspace{Home: strings.TrimRight(home, "/"), Key: key, Profile: profile}
}

// Dir is the per-user, per-project directory on the host
func (w Workspace) Dir() string {
	return path.Join(w.Home, w.Key.UserID, w.Key.ProjectName)
}

// ContainerDir is Dir as seen from inside the container
func (w Workspace) ContainerDir() string {
	return path.Join("/workspace", w.Key.UserID, w.Key.ProjectName)
}

// ArchivePath is the downloaded dataset archive
func (w Workspace) ArchivePath() string {
	return path.Join(w.Dir(), w.Key.ProjectName+".zip")
}

// VideoName is the canonical video file name
func (w Workspace) VideoName() string { return w.Key.ProjectName + ".mp4" }

// ProcessedDir is the processed dataset directory, relative to Dir
func (w Workspace) ProcessedDir() string { return w.Key.ProjectName + "-output" }

// MeshDir is the export directory, relative to Dir
func (w Workspace) MeshDir() string { return w.Key.ProjectName + "-mesh" }

// PLYPath is the exported gaussian splat on the host
func (w Workspace) PLYPath() string {
	return path.Join(w.Dir(), w.MeshDir(), "splat.ply")
}

// SplatPath is the converted viewer file on the host
func (w Workspace) SplatPath() string {
	return path.Join(w.Dir(), w.MeshDir(), "splat.splat")
}

// ScriptPath is where the conversion helper is written
func (w Workspace) ScriptPath() string {
	return path.Join(w.Dir(), "ply_to_splat.py")
}

// ViewerURL is the live viewer address during training
func (w Workspace) ViewerURL(ip string) string {
	return fmt.Sprintf("http://%s:%d", ip, w.Profile.ViewerPort)
}

// SSHKeepalive tunes sshd so long streaming sessions survive idle proxies
func SSHKeepalive() Command {
	return Command{
		Text: "sudo sed -i 's/#ClientAliveInterval.*/ClientAliveInterval 60/' /etc/ssh/sshd_config" +
			" && sudo sed -i 's/#ClientAliveCountMax.*/ClientAliveCountMax 120/' /etc/ssh/sshd_config" +
			" && sudo systemctl restart ssh",
		Policy: executor.PolicyStderrNonEmpty,
	}
}

// PullImage pulls the toolkit image
func PullImage(p Profile) Command {
	return Command{
		Text:   "sudo docker pull " + executor.ShellQuote(p.Image),
		Policy: executor.PolicyStderrNonEmpty,
	}
}

// InstallStorageCLI installs the object-storage CLI. pip reports upgrade
// notices on stderr, so only the exit status counts.
func InstallStorageCLI() Command {
	return Command{
		Text:   "pip3 install awscli --upgrade --user",
		Policy: executor.PolicyExitStatus,
	}
}

// PrepareStorageCLIConfig creates the CLI config directory
func PrepareStorageCLIConfig(home string) Command {
	return Command{
		Text:   "mkdir -p " + executor.ShellQuote(path.Join(home, ".aws")),
		Policy: executor.PolicyStderrNonEmpty,
	}
}

// StartContainer starts the toolkit container detached and prints its id.
// The host home is mounted at /workspace so every job directory is visible.
func (w Workspace) StartContainer() Command {
	home := w.Home
	args := []string{
		"sudo docker run",
		"--gpus all",
		`-u "$(id -u)"`,
		"-v " + executor.ShellQuote(home+":/workspace"),
		"-v " + executor.ShellQuote(home+"/.cache:/home/user/.cache"),
		fmt.Sprintf("-p %d:7007", w.Profile.ViewerPort),
		"--rm",
		"-d",
		"--shm-size=" + w.Profile.ShmSize,
		"-e XDG_DATA_HOME=/workspace/.local/share",
		"-e XDG_CACHE_HOME=/workspace/.cache",
		"-e MPLCONFIGDIR=/workspace/.config/matplotlib",
		executor.ShellQuote(w.Profile.Image),
		"tail -f /dev/null",
	}
	dir := executor.ShellQuote(w.Dir())
	return Command{
		Text:   fmt.Sprintf("mkdir -p %s && cd %s && %s", dir, dir, strings.Join(args, " ")),
		Policy: executor.PolicyStderrNonEmpty,
	}
}

// DownloadDataset copies the project prefix from the bucket into Dir
func (w Workspace) DownloadDataset(sourceURI string) Command {
	return Command{
		Text:   fmt.Sprintf("aws s3 cp --recursive %s %s", executor.ShellQuote(sourceURI), executor.ShellQuote(w.Dir())),
		Policy: executor.PolicyStderrNonEmpty,
	}
}

// Unzip extracts the archive in place
func (w Workspace) Unzip() Command {
	return Command{
		Text:   fmt.Sprintf("unzip -o %s -d %s", executor.ShellQuote(w.ArchivePath()), executor.ShellQuote(w.Dir())),
		Policy: executor.PolicyStderrNonEmpty,
	}
}

// RenameVideo moves the first .mp4 (any case) to the canonical name.
// A rerun that already has the canonical file is a no-op; no video at all fails.
func (w Workspace) RenameVideo() Command {
	dir := executor.ShellQuote(w.Dir())
	canonical := executor.ShellQuote(path.Join(w.Dir(), w.VideoName()))
	return Command{
		Text: fmt.Sprintf(
			`src="$(find %s -maxdepth 1 -iname '*.mp4' ! -name %s | head -n 1)"; `+
				`if [ -n "$src" ]; then mv "$src" %s; `+
				`elif [ ! -f %s ]; then echo 'no .mp4 video found in archive' >&2; exit 1; fi`,
			dir, executor.ShellQuote(w.VideoName()), canonical, canonical),
		Policy: executor.PolicyStderrNonEmpty,
	}
}

func (w Workspace) exec(containerID string, script string) string {
	inner := "cd " + executor.ShellQuote(w.ContainerDir()) + " && " + script
	return fmt.Sprintf("sudo docker exec %s bash -c %s", executor.ShellQuote(containerID), executor.ShellQuote(inner))
}

// ProcessData runs the toolkit's video preprocessing over the canonical video
func (w Workspace) ProcessData(containerID string) Command {
	script := fmt.Sprintf("ns-process-data video --data %s --output-dir %s --num-downscales=%d --gpu",
		executor.ShellQuote(w.VideoName()), executor.ShellQuote(w.ProcessedDir()), w.Profile.NumDownscales)
	return Command{
		Text:   w.exec(containerID, script),
		Policy: executor.PolicyStderrContainsError,
	}
}

// Train runs ns-train with the profile's method and arguments
func (w Workspace) Train(containerID string) Command {
	args := make([]string, 0, len(w.Profile.TrainArgs))
	for _, a := range w.Profile.TrainArgs {
		args = append(args, executor.ShellQuote(a))
	}
	script := fmt.Sprintf("export USER=myuser && export LOGNAME=myuser && ns-train %s --data %s",
		executor.ShellQuote(w.Profile.Method), executor.ShellQuote(w.ProcessedDir()))
	if len(args) > 0 {
		script += " " + strings.Join(args, " ")
	}
	return Command{
		Text:   w.exec(containerID, script),
		Policy: executor.PolicyStderrContainsError,
	}
}

// Export writes the gaussian splat PLY from the most recent training config
func (w Workspace) Export(containerID string) Command {
	obb := w.Profile.BoundingBox
	script := fmt.Sprintf(
		`ns-export gaussian-splat --load-config "$(ls -td outputs/*/*/*/config.yml | head -n 1)" --output-dir %s --obb_center %s --obb_rotation %s --obb_scale %s`,
		executor.ShellQuote(w.MeshDir()), formatVector(obb.Center), formatVector(obb.Rotation), formatVector(obb.Scale))
	return Command{
		Text:   w.exec(containerID, script),
		Policy: executor.PolicyStderrContainsError,
	}
}

// InstallConvertDeps installs the helper's python dependencies. Failure is logged only.
func InstallConvertDeps() Command {
	return Command{
		Text:   "pip install plyfile numpy",
		Policy: executor.PolicyExitStatus,
	}
}

// ConvertRemote runs the conversion helper on the host
func (w Workspace) ConvertRemote() Command {
	return Command{
		Text: fmt.Sprintf("python3 %s %s %s",
			executor.ShellQuote(w.ScriptPath()), executor.ShellQuote(w.PLYPath()), executor.ShellQuote(w.SplatPath())),
		Policy: executor.PolicyStderrContainsError,
	}
}

// UploadSplat copies the converted file to destURI
func (w Workspace) UploadSplat(destURI string) Command {
	return Command{
		Text:   fmt.Sprintf("aws s3 cp %s %s", executor.ShellQuote(w.SplatPath()), executor.ShellQuote(destURI)),
		Policy: executor.PolicyStderrContainsError,
	}
}

// UploadMesh copies the export directory to destURI
func (w Workspace) UploadMesh(destURI string) Command {
	return Command{
		Text: fmt.Sprintf("aws s3 cp --recursive %s %s",
			executor.ShellQuote(path.Join(w.Dir(), w.MeshDir())), executor.ShellQuote(destURI)),
		Policy: executor.PolicyStderrNonEmpty,
	}
}

// StopContainer stops the toolkit container. Failure is only a warning.
func StopContainer(containerID string) Command {
	return Command{
		Text:   "sudo docker stop " + executor.ShellQuote(containerID),
		Policy: executor.PolicyStderrContainsError,
	}
}
