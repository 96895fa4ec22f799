// sim-fc serves simulated flight controllers over tcp:// or ws://.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/uavtalk.go/pkg/env"
	fx "github.com/robotalks/uavtalk.go/pkg/framework"
	"github.com/robotalks/uavtalk.go/pkg/sim"
	"github.com/robotalks/uavtalk.go/pkg/transport"
	"github.com/robotalks/uavtalk.go/pkg/uavobject"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

var listenURL = "tcp://localhost:9000"

func init() {
	if val := os.Getenv("UAVTALK_LISTEN"); val != "" {
		listenURL = val
	}
	env.SetupFlags()
	flag.StringVar(&listenURL, "listen", listenURL, "Listen URL: tcp://, ws://")
}

type server struct {
	dict *uavobject.Dictionary
	conf *env.Config
}

func (s *server) Run(ctx context.Context) error {
	return transport.Serve(ctx, listenURL, func(t transport.Transport) {
		s.serve(ctx, t)
	})
}

func (s *server) serve(ctx context.Context, t transport.Transport) {
	defer t.Close()
	fc := sim.NewFlightController(s.dict, t)
	fc.Engine.ReadTimeout = s.conf.ReadTimeout
	fc.Engine.Timeout = s.conf.Timeout
	fc.Objects.Retries = s.conf.Retries
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fc.Engine.LinkNotifier = uavtalk.LinkLostFunc(func(err error) {
		glog.Infof("link lost: %v", err)
		cancel()
	})
	if err := fc.Run(ctx); err != nil && err != context.Canceled {
		glog.Error(err)
	}
}

func main() {
	flag.Parse()

	conf := env.Default()
	s := &server{dict: conf.MustDictionary(), conf: conf}
	err := fx.NewRunner().
		HandleSignals().
		Go(fx.NamedRun("sim-fc", s)).
		Wait()
	if err != nil {
		log.Fatalln(err)
	}
}
