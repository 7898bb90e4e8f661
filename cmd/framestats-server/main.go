// framestats-server is a stdio MCP server exposing frame-quality tools: it
// counts the frames of an extracted sequence and analyzes their brightness,
// contrast, sharpness and noise level.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openrag/mcp-agent/pkg/frames"
	"github.com/openrag/mcp-agent/pkg/mcp"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer("framestats", version)

	server.Register(mcp.ToolDescriptor{
		Name:        "get_frame_number",
		Description: "Count the frame images in a local folder.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "local path of the frames folder"}
			},
			"required": ["url"]
		}`),
	}, handleFrameNumber)

	server.Register(mcp.ToolDescriptor{
		Name:        "analyze_video_frames",
		Description: "Analyze brightness, contrast, sharpness and noise level of a frame sequence to guide enhancement.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"frames_folder": {"type": "string", "description": "local path of the frames folder"},
				"sample_interval": {"type": "number", "description": "analyze every Nth frame, default 30", "default": 30}
			},
			"required": ["frames_folder"]
		}`),
	}, handleAnalyze)

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func handleFrameNumber(_ context.Context, args map[string]any) (string, error) {
	folder, _ := args["url"].(string)
	if folder == "" {
		return "", errors.New("url is required")
	}
	return frames.CountFrames(folder)
}

func handleAnalyze(_ context.Context, args map[string]any) (string, error) {
	folder, _ := args["frames_folder"].(string)
	if folder == "" {
		return "", errors.New("frames_folder is required")
	}
	interval := frames.DefaultSampleInterval
	if v, ok := args["sample_interval"].(float64); ok && v >= 1 {
		interval = int(v)
	}

	report, err := frames.Analyze(folder, interval)
	if err != nil {
		return "", err
	}
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
