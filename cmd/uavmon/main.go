// uavmon connects to a flight controller and monitors its objects.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/uavtalk.go/pkg/bridge/mqtt"
	"github.com/robotalks/uavtalk.go/pkg/connection"
	"github.com/robotalks/uavtalk.go/pkg/env"
	fx "github.com/robotalks/uavtalk.go/pkg/framework"
	"github.com/robotalks/uavtalk.go/pkg/metrics"
	"github.com/robotalks/uavtalk.go/pkg/telemetry"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

const reconnectDelay = time.Second

var configFile = os.Getenv("UAVTALK_CONFIG")

func init() {
	env.SetupFlags()
	flag.StringVar(&configFile, "config", configFile, "TOML config file.")
}

// session keeps the link connected until the transport fails.
type session struct {
	link *env.Link
}

func (s *session) Run(ctx context.Context) error {
	changeCh := make(chan connection.State, 1)
	s.link.Conn.Subscribe(connection.StateListenerFunc(func(_, to connection.State) {
		select {
		case changeCh <- to:
		default:
		}
	}))
	for {
		if !s.link.Engine.IsRunning() {
			return uavtalk.ErrLinkLost
		}
		if s.link.Conn.State() == connection.StateDisconnected {
			if err := s.link.Conn.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				glog.Errorf("connect: %v", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectDelay):
				}
				continue
			}
			glog.Info("connected")
			if err := s.link.Objects.RequestAllObjUpdate(); err != nil {
				glog.Warningf("request objects: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changeCh:
		}
	}
}

type metricsServer struct {
	addr string
}

func (s *metricsServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: s.addr, Handler: mux}
	glog.Infof("metrics on %s", s.addr)
	err := fx.RunWithContextCloser(ctx, server, server.ListenAndServe)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func logUpdate(u telemetry.Update) {
	if glog.V(1) {
		glog.Infof("%s[%d] #%d %v", u.Data.Definition().Name, u.InstanceID, u.Count, u.Data.Map())
	}
}

func main() {
	flag.Parse()

	conf := env.Default()
	if configFile != "" {
		conf.MustLoadFile(configFile)
	}
	runner := fx.NewRunner().HandleSignals()
	link := conf.MustOpenLink(runner.Context)
	defer link.Close()
	if err := link.Start(); err != nil {
		log.Fatalln(err)
	}

	collector := metrics.Default().Add("fc", link.Engine)
	link.Conn.Subscribe(collector.StateListener("fc"))
	link.Objects.Observe(telemetry.ObserverFunc(logUpdate))

	runner.Go(
		fx.NamedRun("session", &session{link: link}),
		fx.NamedRun("monitor", link.Conn),
	)
	if conf.MetricsAddr != "" {
		runner.Go(fx.NamedRun("metrics", &metricsServer{addr: conf.MetricsAddr}))
	}
	if conf.MQTTBrokerURL != "" {
		bridge, err := mqtt.New(conf.MQTTBrokerURL, link.Objects)
		if err != nil {
			log.Fatalln(err)
		}
		link.Conn.Subscribe(bridge)
		runner.Go(fx.NamedRun("mqtt", bridge))
	}
	err := runner.Wait()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
