package main

import (
	"fmt"
	"net"

	"tickfeed/src/config"
	"tickfeed/src/grpc_control"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/utils"

	"google.golang.org/grpc"
)

const defaultGrpcPort = 50051

// -----------------------------------------------------------------------------

// startServers launches the HTTP/websocket server and the gRPC control server
func startServers(
	cfg *config.Config,
	srv interfaces.IDataExchanger,
	ctrl interfaces.IController,
	reports *utils.ReportBook,
	appLogger *logger.Logger,
) (*grpc.Server, error) {

	// 1. HTTP API
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("API server failed: %v", err)
		}
	}()

	// 2. gRPC Control Server
	port := cfg.GrpcPort
	if port == 0 {
		port = defaultGrpcPort
	}
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.GrpcHost, port))
	if err != nil {
		return nil, fmt.Errorf("listen for gRPC: %w", err)
	}

	controlService := grpc_control.NewControlService(ctrl, reports, logger.NewLogger(cfg.MConfig, "ControlService"))
	grpcServer, _ := grpc_control.NewServer(controlService)

	go func() {
		appLogger.Info("Starting gRPC control server on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Error("gRPC server failed: %v", err)
		}
	}()
	return grpcServer, nil
}
