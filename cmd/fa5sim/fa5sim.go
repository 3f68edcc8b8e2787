package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/piste-data/touche.report/internal/favero"
	"github.com/piste-data/touche.report/internal/serialmux"
)

var (
	port     = flag.String("port", "", "Serial port to emit records on (hex to stdout when empty)")
	baud     = flag.Int("baud", 9600, "Serial baud rate")
	outFile  = flag.String("out", "", "Binary capture file to write records to")
	auto     = flag.Bool("auto", false, "Run a scripted bout instead of the interactive prompt")
	genCount = flag.Int("gen", 0, "Generate N scripted-bout records to -out and exit")
	interval = flag.Duration("interval", time.Second, "Broadcast interval between records")
	seed     = flag.Int64("seed", 0, "Random seed for scripted bouts (0 seeds from the clock)")
)

// simulator models the observable state of an FA-05 scoring machine: the
// current snapshot plus whether the match clock is running. The clock itself
// only advances when a record is broadcast, one second per record, the way
// the apparatus couples its display to its once-per-second emission.
type simulator struct {
	mu      sync.Mutex
	snap    favero.Snapshot
	running bool
	rng     *rand.Rand
}

func newSimulator(seed int64) *simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &simulator{
		snap: freshBout(),
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// freshBout is the power-on state: 3:00 on the clock, match 1, no scores.
func freshBout() favero.Snapshot {
	return favero.Snapshot{ClockMinutes: 3, MatchNumber: 1}
}

// Broadcast returns the current wire record and then advances the clock one
// second if the timer runs.
func (s *simulator) Broadcast() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.snap.MarshalRecord()
	s.tick()
	return record
}

// Snapshot returns the current state.
func (s *simulator) Snapshot() favero.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *simulator) tick() {
	if !s.running {
		return
	}
	switch {
	case s.snap.ClockSeconds > 0:
		s.snap.ClockSeconds--
	case s.snap.ClockMinutes > 0:
		s.snap.ClockMinutes--
		s.snap.ClockSeconds = 59
	default:
		s.running = false
	}
}

// Execute applies one operator command and returns the feedback line to
// print, plus whether the command asks to quit. Unknown commands report
// themselves; they never change state.
func (s *simulator) Execute(line string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return "", false
	}

	switch fields[0] {
	case "start":
		s.running = true
		return "timer started", false

	case "stop":
		s.running = false
		return "timer stopped", false

	case "left":
		s.snap.Lights = favero.LightLeftHit
		s.snap.LeftScore++
		return fmt.Sprintf("left hit (red), score L%d-R%d", s.snap.LeftScore, s.snap.RightScore), false

	case "right":
		s.snap.Lights = favero.LightRightHit
		s.snap.RightScore++
		return fmt.Sprintf("right hit (green), score L%d-R%d", s.snap.LeftScore, s.snap.RightScore), false

	case "leftoff":
		s.snap.Lights = favero.LightLeftOffTarget
		return "left off-target (white)", false

	case "rightoff":
		s.snap.Lights = favero.LightRightOffTarget
		return "right off-target (white)", false

	case "double":
		s.snap.Lights = favero.LightLeftHit | favero.LightRightHit
		if s.rng.Intn(2) == 0 {
			s.snap.LeftScore++
			return fmt.Sprintf("double hit, left takes the point, score L%d-R%d", s.snap.LeftScore, s.snap.RightScore), false
		}
		s.snap.RightScore++
		return fmt.Sprintf("double hit, right takes the point, score L%d-R%d", s.snap.LeftScore, s.snap.RightScore), false

	case "clear":
		s.snap.Lights = 0
		return "lights cleared", false

	case "reset":
		s.snap = freshBout()
		s.running = false
		return "bout reset", false

	case "card":
		if len(fields) < 2 || (fields[1] != "l" && fields[1] != "r") {
			return "usage: card l|r", false
		}
		// Byte 8 has no published bit layout; the simulator counts issued
		// cards there and lights the matching caution indicator.
		s.snap.Penalties++
		if fields[1] == "l" {
			s.snap.Lights |= favero.LightLeftCaution
			return "yellow card, left", false
		}
		s.snap.Lights |= favero.LightRightCaution
		return "yellow card, right", false

	case "packet":
		record := s.snap.MarshalRecord()
		return fmt.Sprintf("%s  %s", strings.ToUpper(hex.EncodeToString(record)), s.snap), false

	case "status":
		state := "halted"
		if s.running {
			state = "running"
		}
		return fmt.Sprintf("%s, clock %s", s.snap, state), false

	case "quit", "q":
		return "", true

	default:
		return fmt.Sprintf("unknown command %q", fields[0]), false
	}
}

// scriptStep is one scripted action, taken after that many broadcast
// records have passed since the previous step.
type scriptStep struct {
	after int
	cmd   string
}

// autoScript is a plausible bout: exchanges on both sides, an off-target, a
// referee halt, a double, a card. The only nondeterminism is which side
// takes the double.
var autoScript = []scriptStep{
	{3, "left"},
	{2, "clear"},
	{4, "rightoff"},
	{1, "clear"},
	{3, "stop"},
	{2, "start"},
	{5, "double"},
	{2, "clear"},
	{6, "right"},
	{3, "clear"},
	{2, "card l"},
	{1, "clear"},
	{4, "left"},
	{2, "stop"},
}

// GenerateBout writes n records of the scripted bout to w without pacing.
func (s *simulator) GenerateBout(n int, w io.Writer) error {
	s.Execute("reset")
	s.Execute("start")

	step := 0
	due := 0
	if len(autoScript) > 0 {
		due = autoScript[0].after
	}
	for i := 0; i < n; i++ {
		if step < len(autoScript) && i == due {
			s.Execute(autoScript[step].cmd)
			step++
			if step < len(autoScript) {
				due += autoScript[step].after
			}
		}
		if _, err := w.Write(s.Broadcast()); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	return nil
}

// runAuto plays the scripted bout in real time while the broadcast loop
// keeps emitting records.
func runAuto(ctx context.Context, sim *simulator, interval time.Duration) {
	log.Print("Running scripted bout")
	sim.Execute("reset")
	sim.Execute("start")

	for _, step := range autoScript {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(step.after) * interval):
		}
		msg, _ := sim.Execute(step.cmd)
		log.Print(msg)
	}
	log.Print("Scripted bout complete; still broadcasting, Ctrl-C to exit")
}

// runInteractive reads operator commands from stdin until quit or EOF.
func runInteractive(sim *simulator, stop func()) {
	fmt.Println("FA-05 simulator. Commands: start stop left right leftoff rightoff double clear reset card l|r packet status quit")
	scan := bufio.NewScanner(os.Stdin)
	fmt.Print("FA5> ")
	for scan.Scan() {
		msg, quit := sim.Execute(scan.Text())
		if quit {
			stop()
			return
		}
		if msg != "" {
			fmt.Println(msg)
		}
		fmt.Print("FA5> ")
	}
	stop()
}

// Main
func main() {
	flag.Parse()

	sim := newSimulator(*seed)

	if *genCount > 0 {
		if *outFile == "" {
			log.Fatal("-gen requires -out to name the capture file")
		}
		f, err := os.Create(*outFile)
		if err != nil {
			log.Fatalf("Failed to create capture file: %v", err)
		}
		if err := sim.GenerateBout(*genCount, f); err != nil {
			log.Fatalf("Failed to generate bout: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Failed to close capture file: %v", err)
		}
		log.Printf("✓ Wrote %d records (%d bytes) to %s", *genCount, *genCount*favero.RecordLen, *outFile)
		return
	}

	// Record sink: serial port, capture file, or hex on stdout.
	var sink io.WriteCloser
	switch {
	case *port != "":
		p, err := serialmux.OpenPort(*port, serialmux.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("Failed to open serial port: %v", err)
		}
		sink = p
		log.Printf("Broadcasting on %s @ %d baud every %s", *port, *baud, *interval)
	case *outFile != "":
		f, err := os.Create(*outFile)
		if err != nil {
			log.Fatalf("Failed to create capture file: %v", err)
		}
		sink = f
		log.Printf("Writing records to %s every %s", *outFile, *interval)
	default:
		log.Printf("No -port or -out; printing records as hex every %s", *interval)
	}
	if sink != nil {
		defer sink.Close()
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// broadcast routine: one record per interval, like the apparatus
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				record := sim.Broadcast()
				if sink == nil {
					fmt.Println(strings.ToUpper(hex.EncodeToString(record)))
					continue
				}
				if _, err := sink.Write(record); err != nil {
					log.Printf("failed to write record: %v", err)
				}
			}
		}
	}()

	if *auto {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runAuto(ctx, sim, *interval)
		}()
	} else {
		// The stdin read cannot be interrupted by the context; the routine
		// dies with the process instead of joining the group.
		go runInteractive(sim, stop)
	}

	wg.Wait()
	log.Printf("Simulator stopped")
}
