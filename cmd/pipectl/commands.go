package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/pipectl/internal/admin"
	"github.com/danmuck/pipectl/internal/auth"
	"github.com/danmuck/pipectl/internal/config"
	"github.com/danmuck/pipectl/internal/logging"
	"github.com/danmuck/pipectl/internal/observability"
	"github.com/danmuck/pipectl/internal/pipe"
	"github.com/danmuck/pipectl/internal/protocol/frame"
	"github.com/danmuck/pipectl/internal/protocol/pipecontrol"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

type reasonFlags struct {
	code     uint
	text     string
	noReason bool
	set      bool
}

func bindReasonFlags(fs *flag.FlagSet) *reasonFlags {
	r := &reasonFlags{}
	fs.UintVar(&r.code, "code", 0, "custom disconnect reason code")
	fs.StringVar(&r.text, "reason", "", "disconnect reason description")
	fs.BoolVar(&r.noReason, "no-reason", false, "send no disconnect reason")
	return r
}

// resolve must run after fs.Parse. A reason is present when -code or
// -reason was given, even if empty.
func (r *reasonFlags) resolve(fs *flag.FlagSet) (*pipecontrol.DisconnectReason, error) {
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "code" || f.Name == "reason" {
			r.set = true
		}
	})
	if r.noReason {
		if r.set {
			return nil, errors.New("-no-reason conflicts with -code/-reason")
		}
		return nil, nil
	}
	if !r.set {
		return nil, nil
	}
	if r.code > uint(^uint32(0)) {
		return nil, fmt.Errorf("-code %d does not fit in 32 bits", r.code)
	}
	return &pipecontrol.DisconnectReason{CustomReason: uint32(r.code), Description: r.text}, nil
}

func parseEndpointID(raw uint64) (pipecontrol.InterfaceID, error) {
	if raw > uint64(^uint32(0)) {
		return 0, fmt.Errorf("-id %d does not fit in 32 bits", raw)
	}
	id := pipecontrol.InterfaceID(raw)
	if !id.IsValid() {
		return 0, errors.New("-id is reserved for pipe control")
	}
	return id, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	path := fs.String("config", "cmd/pipectl/host.toml", "host config path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadHostConfig(*path)
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.Name)
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	host := pipe.NewHost(pipe.DefaultConfig().WithFile(cfg.Pipe), nil)

	var adminSrv *http.Server
	if addr := strings.TrimSpace(cfg.AdminAddr); addr != "" {
		var guard auth.Validator
		if token := strings.TrimSpace(cfg.AdminToken); token != "" {
			guard = auth.StaticToken{Token: token}
		}
		adminSrv = &http.Server{
			Addr:              addr,
			Handler:           admin.New(cfg.Name, host, cfg.CorsOrigins, guard).HTTPRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", addr).Msg("pipectl admin listening")
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("pipectl admin stopped")
				stop()
			}
		}()
	}

	serveErr := host.Serve(ctx, ln)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = multierr.Append(serveErr, host.Close())
	if adminSrv != nil {
		err = multierr.Append(err, adminSrv.Shutdown(shutdownCtx))
	}
	return err
}

func runNotify(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	addr := fs.String("addr", "", "host address (overrides config)")
	id := fs.Uint64("id", 0, "interface id of the closed endpoint")
	path := fs.String("config", "", "client config path")
	reasonOpts := bindReasonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	logging.ConfigureRuntime()

	cfg := defaultClientConfig()
	if *path != "" {
		loaded, err := loadClientConfig(*path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if cfg.Addr == "" {
		return errors.New("notify requires -addr or an addr in -config")
	}
	endpointID, err := parseEndpointID(*id)
	if err != nil {
		return err
	}
	reason, err := reasonOpts.resolve(fs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p, err := pipe.Dial(ctx, cfg.Addr, cfg.Pipe)
	if err != nil {
		return err
	}
	defer p.Close()

	if !p.Endpoints().Owns(endpointID) {
		return fmt.Errorf("-id %s is not in this side's id namespace (primary=%t); non-primary ids carry 0x80000000", endpointID, cfg.Pipe.Primary)
	}
	if err := p.Endpoints().Attach(endpointID); err != nil {
		return err
	}
	if err := p.CloseEndpoint(endpointID, reason); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "notified %s: endpoint %s closed\n", cfg.Addr, endpointID)
	return nil
}

func runEncode(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	id := fs.Uint64("id", 0, "interface id of the closed endpoint")
	reasonOpts := bindReasonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	endpointID, err := parseEndpointID(*id)
	if err != nil {
		return err
	}
	reason, err := reasonOpts.resolve(fs)
	if err != nil {
		return err
	}
	msg := pipecontrol.ConstructPeerEndpointClosedMessage(endpointID, reason)
	fmt.Fprintln(stdout, hex.EncodeToString(msg.Bytes()))
	return nil
}

func runDecode(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("decode takes exactly one hex argument")
	}
	raw, err := hex.DecodeString(strings.TrimSpace(fs.Arg(0)))
	if err != nil {
		return fmt.Errorf("decode hex: %w", err)
	}
	msg, err := frame.Parse(raw)
	if err != nil {
		return err
	}
	if !pipecontrol.IsPipeControlMessage(msg) {
		return fmt.Errorf("interface %d is not pipe control traffic", msg.Header.InterfaceID)
	}
	r := pipecontrol.NewReceiver(pipecontrol.DelegateFunc(func(id pipecontrol.InterfaceID, reason *pipecontrol.DisconnectReason) {
		if reason == nil {
			fmt.Fprintf(stdout, "peer_associated_endpoint_closed endpoint=%s reason=none\n", id)
			return
		}
		fmt.Fprintf(stdout, "peer_associated_endpoint_closed endpoint=%s custom_reason=%d description=%q\n",
			id, reason.CustomReason, reason.Description)
	}))
	return r.Accept(msg)
}

func runTemplate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("template", flag.ContinueOnError)
	kind := fs.String("kind", "host", "config kind: host|client")
	output := fs.String("output", "", "output path (prints to stdout when empty)")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *output == "" {
		body, err := config.Template(*kind)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, body)
		return nil
	}
	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s config template to %s\n", *kind, *output)
	return nil
}
