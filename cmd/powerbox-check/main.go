// powerbox-check validates PowerBox credentials with a single login and
// prints the failure reason, the same classification used during setup.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/raterudder/powerbox/pkg/log"
	"github.com/raterudder/powerbox/pkg/powerbox"
)

func main() {
	client := powerbox.Configured()
	lflag.Configure()

	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)

	creds := client.Credentials()
	ctx, cancel := context.WithTimeout(context.Background(), powerbox.DefaultTimeout)
	defer cancel()

	log.Ctx(ctx).InfoContext(ctx, "checking powerbox connection", slog.String("host", creds.Host))
	if err := powerbox.CheckConnection(ctx, creds); err != nil {
		reason := powerbox.ReasonUnknown
		var checkErr *powerbox.CheckError
		if errors.As(err, &checkErr) {
			reason = checkErr.Reason
		}
		log.Ctx(ctx).ErrorContext(ctx, "powerbox connection check failed", slog.String("reason", reason), slog.Any("error", err))
		fmt.Println(reason)
		os.Exit(1)
	}
	fmt.Println("ok")
}
