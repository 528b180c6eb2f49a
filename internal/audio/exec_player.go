package audio

import (
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// failRestartDelay paces respawns of a looping clip whose player
// command exits with an error, so a broken command cannot fork-spin.
const failRestartDelay = 500 * time.Millisecond

// ExecPlayer plays clips by running an external player command per clip.
// The command template is tokenized on whitespace and "{url}" is
// replaced with the clip URL or path, e.g.
// "ffplay -nodisp -autoexit -loglevel error {url}".
type ExecPlayer struct {
	logger       *log.Logger
	command      []string
	restartDelay time.Duration

	mu       sync.Mutex
	playing  map[string]*execClip
	handlers map[int]func(id string)
	nextSub  int
}

type execClip struct {
	cmd     *exec.Cmd
	stopped bool
	loop    bool
	gen     int
}

// NewExecPlayer creates an ExecPlayer from the command template.
func NewExecPlayer(commandTemplate string, logger *log.Logger) (*ExecPlayer, error) {
	if logger == nil {
		logger = log.Default()
	}
	command := strings.Fields(commandTemplate)
	if len(command) == 0 {
		return nil, fmt.Errorf("local player command is empty")
	}
	return &ExecPlayer{
		logger:       logger,
		command:      command,
		restartDelay: failRestartDelay,
		playing:      make(map[string]*execClip),
		handlers:     make(map[int]func(id string)),
	}, nil
}

// Play implements Player. Fade parameters are logged and ignored; the
// external player owns its own ramp.
func (p *ExecPlayer) Play(id, url string, opts PlayOptions) error {
	if opts.FadeInMs > 0 {
		p.logger.Printf("[DEBUG] ExecPlayer: fade-in %dms requested for %s, delegated to player command", opts.FadeInMs, id)
	}

	p.mu.Lock()
	gen := 0
	if prior, ok := p.playing[id]; ok {
		prior.stopped = true
		if prior.cmd != nil && prior.cmd.Process != nil {
			_ = prior.cmd.Process.Kill()
		}
		gen = prior.gen + 1
	}
	clip := &execClip{loop: opts.Loop, gen: gen}
	p.playing[id] = clip
	p.mu.Unlock()

	go p.run(id, url, clip)
	return nil
}

// run executes the player command, restarting while looping, and fires
// completion handlers only on a natural (non-stopped) exit.
func (p *ExecPlayer) run(id, url string, clip *execClip) {
	for {
		args := make([]string, 0, len(p.command)-1)
		for _, token := range p.command[1:] {
			args = append(args, strings.ReplaceAll(token, "{url}", url))
		}
		cmd := exec.Command(p.command[0], args...)

		p.mu.Lock()
		if clip.stopped || p.playing[id] != clip {
			p.mu.Unlock()
			return
		}
		clip.cmd = cmd
		p.mu.Unlock()

		p.logger.Printf("[INFO] ExecPlayer: playing %s (id=%s)", url, id)
		err := cmd.Run()

		p.mu.Lock()
		stopped := clip.stopped || p.playing[id] != clip
		if !stopped && !clip.loop {
			delete(p.playing, id)
		}
		p.mu.Unlock()

		if stopped {
			return
		}
		if err != nil {
			p.logger.Printf("[WARN] ExecPlayer: player command failed for %s: %v", id, err)
			if clip.loop {
				time.Sleep(p.restartDelay)
			}
		}
		if clip.loop {
			continue
		}
		p.notifyCompletion(id)
		return
	}
}

// Stop implements Player.
func (p *ExecPlayer) Stop(id string) {
	p.mu.Lock()
	clip, ok := p.playing[id]
	if ok {
		clip.stopped = true
		delete(p.playing, id)
		if clip.cmd != nil && clip.cmd.Process != nil {
			_ = clip.cmd.Process.Kill()
		}
	}
	p.mu.Unlock()
}

// OnCompletion implements Player.
func (p *ExecPlayer) OnCompletion(fn func(id string)) func() {
	p.mu.Lock()
	subID := p.nextSub
	p.nextSub++
	p.handlers[subID] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers, subID)
		p.mu.Unlock()
	}
}

// PlayingIDs implements Player.
func (p *ExecPlayer) PlayingIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.playing))
	for id := range p.playing {
		ids = append(ids, id)
	}
	return ids
}

func (p *ExecPlayer) notifyCompletion(id string) {
	p.mu.Lock()
	handlers := make([]func(string), 0, len(p.handlers))
	for _, fn := range p.handlers {
		handlers = append(handlers, fn)
	}
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(id)
	}
}
