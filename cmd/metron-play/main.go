package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/karttu/metron"
	"github.com/karttu/metron/midi"
	"github.com/karttu/metron/oto"
	"github.com/karttu/metron/sequencer"
	"github.com/karttu/metron/synth"
	"github.com/karttu/metron/transport"
	"github.com/karttu/metron/version"
)

func main() {
	kitFile := flag.String("kit", "", "Kit file (.yml) to play. Plays the built-in kit when omitted.")
	bpm := flag.Float64("bpm", 0, "Override the kit tempo.")
	midiPort := flag.String("midi", "", "Send notes to the named MIDI output port instead of the built-in synth. An empty name with -midi-first takes the first port.")
	midiFirst := flag.Bool("midi-first", false, "Send notes to the first MIDI output port found.")
	seconds := flag.Float64("seconds", 0, "Stop after this many seconds. Plays until interrupted when 0.")
	wavOut := flag.String("wav", "", "Render the kit offline to the given .wav file instead of playing. Uses -seconds as the length (default 10).")
	rawOut := flag.String("raw", "", "Render the kit offline to the given .raw file instead of playing.")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when rendering to a file.")
	verbose := flag.Bool("verbose", false, "Print every triggered note.")
	versionFlag := flag.Bool("v", false, "Print version.")
	help := flag.Bool("h", false, "Show help.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}

	kit := metron.DefaultKit()
	if *kitFile != "" {
		data, err := os.ReadFile(*kitFile)
		if err != nil {
			fail("could not read kit file %v: %v", *kitFile, err)
		}
		kit, err = metron.ParseKit(data)
		if err != nil {
			fail("could not parse kit file %v: %v", *kitFile, err)
		}
	}
	if *bpm > 0 {
		kit.BPM = *bpm
	}

	if *wavOut != "" || *rawOut != "" {
		if err := bounce(kit, *seconds, *wavOut, *rawOut, *pcm); err != nil {
			fail("%v", err)
		}
		return
	}

	broker := sequencer.NewBroker()

	var (
		builder   metron.ChainBuilder
		audioStop chan struct{}
	)
	if *midiPort != "" || *midiFirst {
		out, err := midi.NewBuilder(*midiPort)
		if err != nil {
			fail("could not open MIDI output: %v", err)
		}
		defer out.Close()
		builder = out
	} else {
		engine := synth.NewEngine()
		engine.SetPeakFunc(func(level float32) {
			sequencer.TrySend(broker.ToHost, sequencer.MsgToHost{Data: &sequencer.PeakEvent{Level: level}})
		})
		audioContext, err := oto.NewContext(engine.SampleRate())
		if err != nil {
			fail("could not acquire audio context: %v", err)
		}
		defer audioContext.Close()
		sink := audioContext.Output()
		audioStop = make(chan struct{})
		go engine.Stream(sink, audioStop)
		builder = engine
	}

	clock := transport.NewClock(kit.BPM)
	defer clock.Close()
	conductor := sequencer.NewConductor(broker, clock, builder)
	defer conductor.Close()

	names := make(map[int]string)
	for _, track := range kit.Tracks {
		id, err := conductor.AddTrack(track)
		if err != nil {
			fail("could not add track %v: %v", track.Name, err)
		}
		names[id] = track.Name
	}

	go drainHost(broker, names, *verbose)

	conductor.Start()
	fmt.Printf("playing %v at %v BPM, %v tracks\n", kitName(kit), kit.BPM, len(kit.Tracks))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	if *seconds > 0 {
		select {
		case <-time.After(time.Duration(*seconds * float64(time.Second))):
		case <-interrupt:
		}
	} else {
		<-interrupt
	}
	conductor.Stop()
	if audioStop != nil {
		close(audioStop)
	}
}

// bounce renders the kit offline, driving the sequencer on a manual
// transport in lockstep with the synth engine's render clock.
func bounce(kit metron.Kit, seconds float64, wavFile, rawFile string, pcm bool) error {
	if seconds <= 0 {
		seconds = 10
	}
	engine := synth.NewEngine()
	offline := transport.NewOffline(kit.BPM)
	conductor := sequencer.NewConductor(sequencer.NewBroker(), offline, engine)
	defer conductor.Close()
	for _, track := range kit.Tracks {
		if _, err := conductor.AddTrack(track); err != nil {
			return fmt.Errorf("adding track %v: %w", track.Name, err)
		}
	}
	conductor.Start()

	const blockFrames = 1024
	blockSeconds := float64(blockFrames) / float64(engine.SampleRate())
	buffer := make([]float32, 0, int(seconds*float64(engine.SampleRate()))*2)
	block := make([]float32, blockFrames*2)
	for rendered := 0.0; rendered < seconds; rendered += blockSeconds {
		offline.Advance(blockSeconds)
		engine.Render(block)
		buffer = append(buffer, block...)
	}
	conductor.Stop()

	if wavFile != "" {
		data, err := metron.Wav(buffer, engine.SampleRate(), pcm)
		if err != nil {
			return err
		}
		if err := os.WriteFile(wavFile, data, 0644); err != nil {
			return fmt.Errorf("writing %v: %w", wavFile, err)
		}
	}
	if rawFile != "" {
		data, err := metron.Raw(buffer, pcm)
		if err != nil {
			return err
		}
		if err := os.WriteFile(rawFile, data, 0644); err != nil {
			return fmt.Errorf("writing %v: %w", rawFile, err)
		}
	}
	return nil
}

func drainHost(broker *sequencer.Broker, names map[int]string, verbose bool) {
	for msg := range broker.ToHost {
		switch data := msg.Data.(type) {
		case *sequencer.Alert:
			fmt.Fprintf(os.Stderr, "%v: %v\n", data.Name, data.Message)
		case *sequencer.TriggerEvent:
			if verbose {
				fmt.Printf("%8.3f %v\n", data.When, names[data.TrackID])
			}
		}
	}
}

func kitName(kit metron.Kit) string {
	if kit.Name != "" {
		return kit.Name
	}
	return "untitled kit"
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Plays a metron kit file through the built-in synth or a MIDI port.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
