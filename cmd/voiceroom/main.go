package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-room/auth"
	"voice-room/domain/invitation"
	"voice-room/domain/room"
	"voice-room/infrastructure/channel"
	"voice-room/infrastructure/storage"
	"voice-room/internal"
	"voice-room/moderation"
	"voice-room/runtime/workers"
	"voice-room/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	grpc3 "github.com/mama165/sdk-go/grpc"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const houseUserID = "house"

// supervisedWorkers is the number of workers the host supervisor runs: expiry and health.
const supervisedWorkers = 2

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Voice room host terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Every defer (badger, bluge) runs before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Storage (BadgerDB for profiles, Bluge for the room directory)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	index, err := storage.OpenRoomIndex(config.BlugeFilepath, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open room index: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = index.Close()
	}()

	dictionary, err := moderation.DefaultDictionary()
	if err != nil {
		return exitRuntime, err
	}
	moderator, err := moderation.NewModerator(dictionary.Words, charReplacement, logger)
	if err != nil {
		return exitRuntime, err
	}

	// 3. Room host & shared state
	host := channel.NewLocalChannel(logger, index)
	profiles := storage.NewProfileRepository(db, logger)
	invitations := invitation.NewStore()
	deps := services.Deps{
		Channel:     host,
		Directory:   host,
		Profiles:    profiles,
		Invitations: invitations,
		Moderator:   moderator,
	}

	// 4. Supervision
	healthServer := health.NewServer()
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		workers.NewExpiryWorker(logger, invitations, config.ExpiryInterval, config.InvitationRetention),
		workers.NewHealthWorker(logger, config.MetricInterval, host.ActiveRooms, sup.Restarts, func(h workers.Health) {
			status := servingStatus(sup.Running(), supervisedWorkers)
			logger.Info("Health",
				"pid", h.PID, "cpu", h.CPU, "ram", h.RAM,
				"rooms", h.Rooms, "restarts", h.Restarts,
				"invitations", invitations.Len(), "status", status)
			healthServer.SetServingStatus("", status)
		}),
	)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		logger.Info("Starting workers...")
		sup.Run(ctx)
	}()

	var lobby *services.Coordinator
	if config.LobbyRoomID != 0 {
		lobby, err = openLobby(ctx, logger, config, deps)
		if err != nil {
			return exitRuntime, err
		}
	}

	if logger.Enabled(ctx, slog.LevelDebug) {
		debugServer := internal.NewDebugServer(logger, db, fmt.Sprintf("%s:%d", config.Host, config.DebugPort), "/inspect",
			ProfileMapper, func() map[string]any {
				return map[string]any{
					"Rooms":       host.ActiveRooms(),
					"Invitations": invitations.Len(),
					"Restarts":    sup.Restarts(),
				}
			})
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort))
		go func() {
			if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Debug server stopped", "error", err)
			}
		}()
		defer func() { _ = debugServer.Close() }()
	}

	// 6. gRPC Server Setup
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	issuer := auth.NewIssuer(config.AuthSecret, config.AuthTokenDuration)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc3.UnaryLoggingInterceptor(logger),
			auth.UnaryInterceptor(issuer, healthpb.Health_Check_FullMethodName),
		))
	healthpb.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("Starting gRPC server", "address", address, "at", time.Now().UTC())
		if err := s.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 8. Graceful Shutdown
	logger.Info("Shutting down gracefully...")
	healthServer.Shutdown()
	s.GracefulStop()
	if lobby != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), config.OperationTimeout)
		if err := lobby.Close(closeCtx); err != nil {
			logger.Warn("Lobby not closed cleanly", "error", err)
		}
		cancel()
	}
	sup.Stop()
	<-supDone
	logger.Info("Program stopped cleanly", "rooms_left", host.ActiveRooms())

	return exitOK, nil
}

// openLobby makes the house user own a room so the directory is never empty.
func openLobby(ctx context.Context, logger *slog.Logger, config internal.Config, deps services.Deps) (*services.Coordinator, error) {
	lobby, err := services.NewCoordinator(logger, houseUserID, config.Coordinator(), deps)
	if err != nil {
		return nil, err
	}
	// The lobby outlives the signal context, it is closed explicitly on shutdown.
	lobby.Start(context.WithoutCancel(ctx))
	completion, err := lobby.CreateRoom(room.ID(config.LobbyRoomID), room.Param{
		Name:      config.LobbyName,
		SeatCount: config.LobbySeatCount,
	})
	if err != nil {
		return nil, fmt.Errorf("lobby refused: %w", err)
	}
	if err := completion.Wait(ctx); err != nil {
		return nil, fmt.Errorf("lobby creation failed: %w", err)
	}
	logger.Info("Lobby opened", "room_id", config.LobbyRoomID, "name", config.LobbyName)
	return lobby, nil
}

// servingStatus reports NOT_SERVING as soon as one supervised worker is gone for good.
func servingStatus(running, expected int) healthpb.HealthCheckResponse_ServingStatus {
	if running < expected {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	var options badger.Options
	if config.BadgerFilepath == "" {
		options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		options = badger.DefaultOptions(config.BadgerFilepath)
	}

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}
	return options
}

func ProfileMapper(key string, val []byte) internal.InspectRow {
	row := internal.DefaultMapper(key, val)
	user, at, err := storage.DecodeProfile(val)
	if err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	row.Timestamp = at.Format("15:04:05")
	row.Detail = user.Name
	if user.AvatarURL != "" {
		row.Detail += " (" + user.AvatarURL + ")"
	}
	return row
}
