package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/protocol"
	"github.com/sherwinwater/speech-to-text-service/pkg/stts"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sttd",
	Short: "Streaming speech-to-text service",
	Long: `sttd serves live transcription over WebSocket and Twilio media
streams, plus one-shot file transcription over HTTP.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(loadDotenv)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	transcribeCmd.Flags().String("server", "http://localhost:8000", "base URL of a running server")
	transcribeCmd.Flags().String("url", "", "transcribe a remote file instead of a local one")
	transcribeCmd.Flags().String("model-size", "", "recognizer model size (tiny, base, small, medium)")
	transcribeCmd.Flags().String("language", "", "language hint")
	transcribeCmd.Flags().Bool("word-timestamps", false, "request word-level timestamps")

	streamCmd.Flags().String("server", "ws://localhost:8000/v1/stream", "stream endpoint of a running server")
	streamCmd.Flags().String("format", "wav", "audio format of the file")
	streamCmd.Flags().String("model-size", "", "recognizer model size override")
	streamCmd.Flags().Bool("realtime", false, "pace chunks at roughly real time")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(streamCmd)
}

func loadDotenv() {
	// .env is optional; real environment variables still apply.
	_ = godotenv.Load()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recognition server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := stts.LoadConfig(configPath)
	if err != nil {
		return err
	}
	svc, err := stts.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	return svc.Run(ctx)
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [file]",
	Short: "Send a file or URL to a running server's one-shot endpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTranscribe,
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	remoteURL, _ := cmd.Flags().GetString("url")
	modelSize, _ := cmd.Flags().GetString("model-size")
	language, _ := cmd.Flags().GetString("language")
	wordTimestamps, _ := cmd.Flags().GetBool("word-timestamps")

	if (len(args) == 0) == (remoteURL == "") {
		return fmt.Errorf("provide exactly one of <file> or --url")
	}

	endpoint := strings.TrimRight(server, "/") + "/v1/transcribe"
	query := url.Values{}
	if language != "" {
		query.Set("language", language)
	}
	if modelSize != "" {
		query.Set("model_size", modelSize)
	}
	if wordTimestamps {
		query.Set("word_timestamps", "true")
	}
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var body bytes.Buffer
	contentType := "application/json"
	if remoteURL != "" {
		if err := json.NewEncoder(&body).Encode(map[string]string{"url": remoteURL}); err != nil {
			return err
		}
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", filepath.Base(args[0]))
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f); err != nil {
			return err
		}
		if err := mw.Close(); err != nil {
			return err
		}
		contentType = mw.FormDataContentType()
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Detail != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Detail)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, bytes.TrimSpace(raw), "", "  "); err != nil {
		fmt.Println(strings.TrimSpace(string(raw)))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

var streamCmd = &cobra.Command{
	Use:   "stream <file>",
	Short: "Stream a file to a running server and print deltas as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE:  runStream,
}

func runStream(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	format, _ := cmd.Flags().GetString("format")
	modelSize, _ := cmd.Flags().GetString("model-size")
	realtime, _ := cmd.Flags().GetBool("realtime")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(server, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", server, err)
	}
	defer conn.Close()

	handshake, err := json.Marshal(protocol.Handshake{
		Type:      protocol.StartCommand,
		Format:    format,
		Rate:      audio.SampleRate,
		ModelSize: modelSize,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Type   string `json:"type"`
				Append string `json:"append"`
			}
			if json.Unmarshal(payload, &msg) != nil {
				continue
			}
			switch msg.Type {
			case "delta":
				fmt.Print(msg.Append)
			case "final":
				fmt.Println()
				return
			}
		}
	}()

	// 100ms of normalized PCM per frame; encoded formats just get the
	// same byte granularity.
	chunkBytes := audio.BytesPerSecond / 10
	for off := 0; off < len(data); off += chunkBytes {
		end := off + chunkBytes
		if end > len(data) {
			end = len(data)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data[off:end]); err != nil {
			return err
		}
		if realtime {
			time.Sleep(100 * time.Millisecond)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("stop")); err != nil {
		return err
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for final transcript")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
