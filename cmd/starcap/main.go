package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
	"goji.io"

	yml "gopkg.in/yaml.v2"

	"github.com/astrolab/starcap/calib"
	"github.com/astrolab/starcap/camera"
	"github.com/astrolab/starcap/fitsrec"
	"github.com/astrolab/starcap/frame"
	"github.com/astrolab/starcap/pipeline"
	"github.com/astrolab/starcap/server/middleware/locker"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "starcap.yml"
	k              = koanf.New(".")
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`
}

type simulator struct {
	Width      int     `yaml:"Width"`
	Height     int     `yaml:"Height"`
	Seed       int64   `yaml:"Seed"`
	Stars      int     `yaml:"Stars"`
	PSFSigma   float64 `yaml:"PSFSigma"`
	BlackLevel int     `yaml:"BlackLevel"`
	HotPixels  int     `yaml:"HotPixels"`
	Noise      float64 `yaml:"Noise"`
	SkyRate    float64 `yaml:"SkyRate"`
}

type config struct {
	Addr         string    `yaml:"Addr"`
	Root         string    `yaml:"Root"`
	ExposureUs   int64     `yaml:"ExposureUs"`
	AutoExposure bool      `yaml:"AutoExposure"`
	DetectStars  bool      `yaml:"DetectStars"`
	DarkFrames   int       `yaml:"DarkFrames"`
	Recorder     recorder  `yaml:"Recorder"`
	Sim          simulator `yaml:"Sim"`
}

func setupconfig() {
	k.Load(structs.Provider(config{
		Addr:         ":8000",
		Root:         "/",
		ExposureUs:   10000,
		AutoExposure: true,
		DetectStars:  true,
		DarkFrames:   32,
		Recorder:     recorder{Root: "data", Prefix: "cap"},
		Sim: simulator{
			Width:      640,
			Height:     480,
			Seed:       1,
			Stars:      8,
			PSFSigma:   2,
			BlackLevel: 400,
			HotPixels:  4,
			Noise:      25,
			SkyRate:    0.05,
		}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `starcap drives a sensor through a capture/calibrate/detect pipeline and
exposes control of it over HTTP.  Without hardware attached it runs against a
built-in simulation camera.

Usage:
	starcap <command>

Commands:
	run
	dark
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `starcap is amenable to configuration via its .yaml file.  For a primer on
YAML, see https://yaml.org/start.html

When no configuration is provided, the defaults are used; mkconf writes them
out as a starting point.

run starts the capture pipeline and serves the control API on Addr.  The
interesting routes, relative to Root:

	GET/POST exposure-time     exposure as seconds (json f64) or ?exposureTime=10ms
	GET/POST auto-exposure     closed-loop exposure control (json bool)
	GET/POST capture-black     black-frame accumulation mode (json bool)
	GET/POST star-detection    star detector enable (json bool)
	GET/POST gain, gamma       display conversion knobs
	GET      stars             latest detection list
	GET      status            frame counter, exposure, bad pixel count
	GET/POST autowrite/...     FITS recorder root/prefix/enabled
	GET/POST lock              close the control surface (json bool)

dark captures DarkFrames black frames from the device and reports the black
level statistics and bad pixel count, as a quick bench check of a sensor.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("starcap version %v\n", Version)
}

// buildSim constructs the simulation camera from the config.
func buildSim(c config) *camera.Sim {
	sim := camera.NewSim(c.Sim.Width, c.Sim.Height, c.Sim.Seed)
	sim.Sigma = c.Sim.PSFSigma
	sim.BlackLevel = uint16(c.Sim.BlackLevel)
	sim.Noise = c.Sim.Noise
	sim.SkyRate = c.Sim.SkyRate
	rng := rand.New(rand.NewSource(c.Sim.Seed))
	margin := 50
	for i := 0; i < c.Sim.Stars; i++ {
		sim.Stars = append(sim.Stars, camera.SimStar{
			X:    float64(margin) + rng.Float64()*float64(c.Sim.Width-2*margin),
			Y:    float64(margin) + rng.Float64()*float64(c.Sim.Height-2*margin),
			Flux: 0.5 + rng.Float64()*4,
		})
	}
	for i := 0; i < c.Sim.HotPixels; i++ {
		sim.HotPixels = append(sim.HotPixels, rng.Intn(c.Sim.Width*c.Sim.Height))
	}
	sim.SetExposure(c.ExposureUs)
	return sim
}

// subMuxSanitize cleans up a config Root into a mountable pattern.
func subMuxSanitize(stem string) string {
	if !strings.HasPrefix(stem, "/") {
		stem = "/" + stem
	}
	return strings.TrimSuffix(stem, "/") + "/"
}

func run() {
	cfg := config{}
	k.Unmarshal("", &cfg)
	cam := buildSim(cfg)

	rec := fitsrec.NewRecorder(cfg.Recorder.Root, cfg.Recorder.Prefix)
	settings := pipeline.DefaultSettings()
	settings.AutoExposure = cfg.AutoExposure
	settings.DetectStars = cfg.DetectStars
	settings.Exposure = cfg.ExposureUs
	store := pipeline.NewSettingsStore(settings)

	p, err := pipeline.New(cam, store, rec)
	if err != nil {
		log.Fatal(err)
	}
	w := pipeline.NewHTTPWrapper(p)
	fitsrec.NewHTTPWrapper(rec).Inject(w)
	lock := locker.New()
	locker.Inject(w, lock)

	mux := goji.NewMux()
	mux.Use(lock.Check)
	w.RT().Bind(mux)

	rootRouter := chi.NewRouter()
	rootRouter.Use(middleware.Logger)
	stem := strings.TrimSuffix(subMuxSanitize(cfg.Root), "/")
	if stem == "" {
		rootRouter.Mount("/", mux)
	} else {
		rootRouter.Mount(stem, http.StripPrefix(stem, mux))
	}

	p.Start()
	defer p.Stop()

	srv := &http.Server{Addr: cfg.Addr, Handler: rootRouter}
	go func() {
		log.Println("now listening for requests at", cfg.Addr+cfg.Root)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("shutting down")
	srv.Close()
}

// dark captures a sequence of black frames and reports the calibration
// statistics, with a spinner so long exposure sequences show progress.
func dark() {
	cfg := config{}
	k.Unmarshal("", &cfg)
	cam := buildSim(cfg)
	// darks want no light on the sensor; the simulator obliges by
	// emptying the star field
	cam.Stars = nil
	cam.SkyRate = 0

	w, h, err := cam.Res()
	if err != nil {
		log.Fatal(err)
	}

	scfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " capturing dark frames",
		SuffixAutoColon: true,
		StopCharacter:   "done",
	}
	spinner, err := yacspin.New(scfg)
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	cal := calib.New()
	cal.StartBlack(w, h)
	fr := frame.NewBuffer(w, h)
	for i := 0; i < cfg.DarkFrames; i++ {
		spinner.Message(fmt.Sprintf("%d/%d", i+1, cfg.DarkFrames))
		if err := captureOne(cam, fr.Pix); err != nil {
			spinner.StopFail()
			log.Fatal(err)
		}
		cal.Accumulate(fr)
	}
	cal.FinishBlack()
	spinner.Stop()

	fmt.Printf("accumulated %d dark frames at %dx%d\n", cal.Frames(), w, h)
	fmt.Printf("black mean %d DN, %d bad pixels\n", cal.BlackMean(), len(cal.BadPixels()))
}

func captureOne(cam camera.Camera, dst []uint16) error {
	if err := cam.StartAcquisition(); err != nil {
		return err
	}
	for {
		switch cam.PollStatus() {
		case camera.Working:
			time.Sleep(time.Millisecond)
		case camera.Success:
			return cam.ReadFrame(dst)
		case camera.Failure:
			return fmt.Errorf("acquisition failed")
		}
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "dark":
		dark()
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
