// ocrctl is the operator CLI for the OCR engine and the service API.
//
//	ocrctl [-config config.yaml] health
//	ocrctl [-config config.yaml] cancel <remoteJobID>
//	ocrctl [-config config.yaml] token [-sub name] [-scope ocr] [-ttl 1h]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"receipt-ocr/internal/config"
	"receipt-ocr/internal/domain/ports/adapter"
	ocrAdapters "receipt-ocr/internal/infra/adapters/ocr"
	"receipt-ocr/internal/infra/web"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	baseURL := flag.String("url", "", "override ocr.base_url")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		fail("load config: %v", err)
	}
	if *baseURL != "" {
		cfg.OCR.BaseURL = *baseURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OCR.Timeout)
	defer cancel()

	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "health":
		h, err := engine(cfg).HealthCheck(ctx)
		if err != nil {
			fail("health: %v", err)
		}
		fmt.Printf("%s: %s\n", h.Service, h.Status)
	case "cancel":
		if len(args) != 1 {
			fail("usage: ocrctl cancel <remoteJobID>")
		}
		if err := engine(cfg).Cancel(ctx, args[0]); err != nil {
			fail("cancel: %v", err)
		}
		fmt.Printf("cancel requested for %s\n", args[0])
	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		sub := fs.String("sub", "ocrctl", "token subject")
		scope := fs.String("scope", "ocr", "token scope")
		ttl := fs.Duration("ttl", cfg.HTTP.TokenTTL, "token lifetime")
		_ = fs.Parse(args)
		tok, err := web.NewAuthManager(cfg.HTTP.JWTSecret, *ttl).Issue(*sub, *scope)
		if err != nil {
			fail("token: %v", err)
		}
		fmt.Println(tok)
	default:
		usage()
		os.Exit(2)
	}
}

func engine(cfg *config.Config) adapter.OCRClient {
	if cfg.OCR.BaseURL == "stub" {
		return ocrAdapters.NewStubEngine()
	}
	c, err := ocrAdapters.NewHTTPClient(cfg.OCR.BaseURL, cfg.OCR.Timeout)
	if err != nil {
		fail("ocr client: %v", err)
	}
	return c
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [-config path] [-url base] <health|cancel <remoteJobID>|token [-sub s] [-scope s] [-ttl d]>\n", os.Args[0])
	flag.PrintDefaults()
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
