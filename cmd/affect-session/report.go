package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/miradorstack/mirador-affect/internal/api"
	"github.com/miradorstack/mirador-affect/internal/config"
	"github.com/miradorstack/mirador-affect/internal/engine"
	"github.com/miradorstack/mirador-affect/internal/eventlog"
	"github.com/miradorstack/mirador-affect/internal/services"
)

func reportCommand(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	surveyPath := fs.String("survey", "", "Survey log file")
	predictionPath := fs.String("prediction", "", "Prediction log file")
	sessionID := fs.String("session", "", "Session id (defaults to the one in the survey file name)")
	jsonOut := fs.Bool("json", false, "Print the report as JSON")
	server := fs.String("server", "", "Correlate on a remote report service at this address")
	timeout := fs.Duration("timeout", 10*time.Second, "Remote call timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *surveyPath == "" {
		return fmt.Errorf("-survey is required")
	}

	if *server != "" {
		return remoteReport(*server, *surveyPath, *predictionPath, *sessionID, *jsonOut, *timeout)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer closeLog()

	bank, err := engine.LoadQuestionBank(cfg.Session.QuestionsPath, logger)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	provider := newCacheProvider(cfg)
	defer provider.Close()
	archive, closeArchive := openArchive(cfg, provider, logger)
	defer closeArchive()

	reports := services.NewReportService(logger, engine.NewCorrelator(logger), bank, archive)
	report, err := reports.CorrelateFiles(context.Background(), *surveyPath, *predictionPath, *sessionID)
	if err != nil {
		return err
	}
	return printReport(report, *jsonOut)
}

func remoteReport(addr, surveyPath, predictionPath, sessionID string, asJSON bool, timeout time.Duration) error {
	survey, err := os.ReadFile(surveyPath)
	if err != nil {
		return fmt.Errorf("read survey log: %w", err)
	}
	var predictions []byte
	if predictionPath != "" {
		if predictions, err = os.ReadFile(predictionPath); err != nil {
			return fmt.Errorf("read prediction log: %w", err)
		}
	}
	if sessionID == "" {
		sessionID, _ = eventlog.SessionIDFromPath(surveyPath)
	}

	req, err := api.NewCorrelateRequest(sessionID, survey, predictions)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := api.NewReportClient(conn).Correlate(ctx, req)
	if err != nil {
		return fmt.Errorf("correlate: %w", err)
	}

	if asJSON {
		out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(out))
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, resp.GetFields()[api.FieldText].GetStringValue())
	return err
}
