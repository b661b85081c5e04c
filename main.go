package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"voicerelay/audio"
	"voicerelay/conversation"
	"voicerelay/core"
	"voicerelay/persona"
	"voicerelay/pipeline"
	"voicerelay/server"
	elevenlabs "voicerelay/services/elevenlabs/tts"
	"voicerelay/services/openai/llm"
	"voicerelay/services/openai/stt"
	"voicerelay/store"
)

func main() {
	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]interface{}{"error": err}).Warn("No .env.local file found or failed to load")
	}
	logger := core.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutdown signal received")
		cancel()
	}()

	st, err := store.Open(store.Config{
		Path:           getEnv("DATABASE_PATH", "./voicerelay.db"),
		DefaultPersona: persona.DefaultName,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	if err := st.Init(ctx); err != nil {
		logger.Fatalf("failed to initialize store: %v", err)
	}
	if err := st.SeedPrompts(ctx, persona.DefaultPrompts()); err != nil {
		logger.Fatalf("failed to seed personas: %v", err)
	}

	registry, err := persona.NewRegistry(persona.DefaultConfig(), st, logger)
	if err != nil {
		logger.Fatalf("failed to build persona registry: %v", err)
	}

	openAIKey := getEnv("OPENAI_API_KEY", "")
	completer, err := llm.NewService(llm.Config{
		APIKey:      openAIKey,
		Model:       getEnv("OPENAI_MODEL", ""),
		MaxTokens:   getEnvAsInt("OPENAI_MAX_TOKENS", 0),
		Temperature: 0,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to create completion service: %v", err)
	}

	transcriber, err := stt.NewService(stt.Config{
		APIKey:   openAIKey,
		Language: getEnv("TRANSCRIPTION_LANGUAGE", ""),
	}, logger)
	if err != nil {
		logger.Fatalf("failed to create transcription service: %v", err)
	}

	synthesizer, err := elevenlabs.NewService(elevenlabs.Config{
		APIKey: getEnv("ELEVENLABS_API_KEY", ""),
	}, logger)
	if err != nil {
		logger.Fatalf("failed to create synthesis service: %v", err)
	}

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.Audio = audio.Config{
		Encoding:   audio.Encoding(getEnv("INBOUND_AUDIO_ENCODING", string(audio.PCM))),
		SampleRate: getEnvAsInt("INBOUND_AUDIO_SAMPLE_RATE", 16000),
		Channels:   getEnvAsInt("INBOUND_AUDIO_CHANNELS", 1),
	}

	assembler := conversation.NewAssembler(st, registry)
	turns := pipeline.New(pipelineCfg, transcriber, completer, synthesizer, assembler, st, logger)

	srv := server.New(server.Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8765"),
		Path:       getEnv("WEBSOCKET_PATH", "/"),
	}, st, registry, turns, logger)

	if err := srv.Serve(ctx); err != nil {
		logger.Fatalf("server error: %v", err)
	}

	logger.Info("Shutting down...")
	time.Sleep(time.Second)
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}
