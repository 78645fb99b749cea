package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Capturer grabs the screen as a PNG.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// ScreenCapturer 调用系统截图工具
// ScreenCapturer shells out to the platform's screenshot tool
type ScreenCapturer struct {
	goos     string
	lookPath func(string) (string, error)
}

func NewScreenCapturer() *ScreenCapturer {
	return &ScreenCapturer{goos: runtime.GOOS, lookPath: exec.LookPath}
}

const windowsCaptureScript = `Add-Type -AssemblyName System.Windows.Forms,System.Drawing; ` +
	`$b=[System.Windows.Forms.SystemInformation]::VirtualScreen; ` +
	`$bmp=New-Object System.Drawing.Bitmap $b.Width,$b.Height; ` +
	`$g=[System.Drawing.Graphics]::FromImage($bmp); ` +
	`$g.CopyFromScreen($b.Left,$b.Top,0,0,$bmp.Size); ` +
	`$bmp.Save('%s',[System.Drawing.Imaging.ImageFormat]::Png)`

// captureCommands lists candidate invocations in preference order.
func (c *ScreenCapturer) captureCommands(file string) [][]string {
	switch c.goos {
	case "darwin":
		return [][]string{{"screencapture", "-x", "-t", "png", file}}
	case "windows":
		script := fmt.Sprintf(windowsCaptureScript, strings.ReplaceAll(file, "'", "''"))
		return [][]string{{"powershell", "-NoProfile", "-NonInteractive", "-Command", script}}
	default:
		return [][]string{
			{"gnome-screenshot", "-f", file},
			{"import", "-window", "root", file},
			{"grim", file},
			{"scrot", "-o", file},
		}
	}
}

func (c *ScreenCapturer) Capture(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "deskagent-capture-")
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	defer os.RemoveAll(dir)
	file := filepath.Join(dir, "screen.png")

	var errs []error
	for _, argv := range c.captureCommands(file) {
		if _, err := c.lookPath(argv[0]); err != nil {
			errs = append(errs, fmt.Errorf("%s not available", argv[0]))
			continue
		}
		out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out))))
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil || len(data) == 0 {
			errs = append(errs, fmt.Errorf("%s produced no image", argv[0]))
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("capture screen: %w", errors.Join(errs...))
}
