//go:build !tinygo

// Command keelmon boots an image on the simulated CPU and drives it from
// an interactive shell.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"keel/internal/buildinfo"
	"keel/keelos/image"
)

const sessionKey = "$session"

var commands = []*ishell.Cmd{
	{
		Name: "step",
		Help: "[N] run N traps (default 1)",
		Func: withArgs((*session).step),
	},
	{
		Name: "run",
		Help: "TICKS run until the kernel clock advances by TICKS",
		Func: withArgs((*session).run),
	},
	{
		Name: "irq",
		Help: "LINE raise an interrupt line",
		Func: withArgs((*session).irq),
	},
	{
		Name:    "tasks",
		Aliases: []string{"ps"},
		Help:    "show the task table",
		Func: func(c *ishell.Context) {
			c.Print(sessionFrom(c).tasks())
		},
	},
	{
		Name: "regions",
		Help: "[TASK] show the region table",
		Func: withArgs((*session).regions),
	},
	{
		Name: "mpu",
		Help: "show the protection unit slots",
		Func: func(c *ishell.Context) {
			c.Print(sessionFrom(c).mpu())
		},
	},
	{
		Name: "restart",
		Help: "TASK [stopped] reset a task",
		Func: withArgs((*session).restart),
	},
	{
		Name: "inject",
		Help: "TASK REASON fault a task as a server would",
		Func: withArgs((*session).inject),
	},
}

func sessionFrom(c *ishell.Context) *session {
	return c.Get(sessionKey).(*session)
}

func withArgs(fn func(*session, []string) (string, error)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		out, err := fn(sessionFrom(c), c.Args)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(out)
	}
}

// shellLogger prints kernel and task log lines on the shell.
type shellLogger struct {
	sh *ishell.Shell
}

func (l shellLogger) WriteLineString(s string) { l.sh.Println(s) }
func (l shellLogger) WriteLineBytes(b []byte)  { l.sh.Println(string(b)) }

func loadImage(imagePath, appPath string) (*image.Image, error) {
	switch {
	case appPath != "":
		d, err := image.LoadDescription(appPath)
		if err != nil {
			return nil, err
		}
		return d.Build()
	case imagePath != "":
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, err
		}
		img, err := image.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", imagePath, err)
		}
		return img, img.Validate()
	default:
		return nil, fmt.Errorf("one of -image or -app is required")
	}
}

func main() {
	var imagePath, appPath string
	var cyclesPerTick uint64
	flag.StringVar(&imagePath, "image", os.Getenv("KEEL_IMAGE_PATH"), "Flash image to boot.")
	flag.StringVar(&appPath, "app", "", "App description to build and boot instead of an image.")
	flag.Uint64Var(&cyclesPerTick, "cycles-per-tick", 0, "Cycles per kernel tick (0 = default).")
	flag.Parse()
	defer glog.Flush()

	img, err := loadImage(imagePath, appPath)
	if err != nil {
		glog.Errorf("load: %v", err)
		glog.Flush()
		os.Exit(1)
	}

	sh := ishell.New()
	s, err := newSession(img, shellLogger{sh}, cyclesPerTick)
	if err != nil {
		glog.Errorf("boot %s: %v", img.Name, err)
		glog.Flush()
		os.Exit(1)
	}
	defer s.close()

	sh.Set(sessionKey, s)
	sh.SetPrompt(img.Name + " > ")
	for _, cmd := range commands {
		sh.AddCmd(cmd)
	}

	if args := flag.Args(); len(args) > 0 {
		if err := sh.Process(args...); err != nil {
			glog.Errorf("%v", err)
		}
		return
	}
	sh.Println(buildinfo.String())
	sh.Printf("%s: %d tasks, %d regions\n", img.Name, len(img.Tasks), len(img.Regions))
	sh.Run()
}
