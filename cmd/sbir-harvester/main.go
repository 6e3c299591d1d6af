package main

import (
	"context"

	"sbirharvest/cmd/sbir-harvester/commands"
	"sbirharvest/lib/serviceutil"
	"sbirharvest/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	err := telemetry.SetupFromEnv(ctx, "sbir-harvester")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer telemetry.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	commands.ExecuteContext(ctx)
}
