package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradedesk/src/database"
	"tradedesk/src/pool"
	"tradedesk/src/repository"
	"tradedesk/src/risk"
	"tradedesk/src/server"
	"tradedesk/src/service"
	"tradedesk/src/syncloop"
)

var APP_NAME = os.Getenv("APP_NAME")

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	app := cli.NewApp()
	app.Name = "Tradedesk CMD"
	app.Usage = "The Tradedesk command line interface"

	app.Commands = []cli.Command{
		serverCMD,
		syncLoopCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the API server",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the API server`,
	}
	syncLoopCMD = cli.Command{
		Name:        "syncloop",
		Usage:       "run the reconciliation loop",
		Action:      syncLoopAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the order and position reconciliation loop`,
	}
)

func serverAction(_ *cli.Context) error {

	logger.Info("Starting server CMD")

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	connPool := pool.NewConnectionPool()

	// Build the order service up front so a bad risk or credential
	// configuration fails the boot instead of the first order.
	orderService, err := newOrderService(connPool)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build order service")
	}
	defer orderService.WaitSubmissions()

	server.StartServer(server.GetConfig().Port, connPool)

	return nil
}

func syncLoopAction(_ *cli.Context) error {

	logger.Info("Starting syncloop CMD")

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	connPool := pool.NewConnectionPool()
	defer connPool.Shutdown()

	orders := repository.NewOrderRepository()
	positions := repository.NewPositionRepository()
	connections := repository.NewConnectionRepository()

	reconciler := service.NewReconciler(orders, positions, connections, service.PoolLeaser(connPool))

	loop := syncloop.New(reconciler, syncloop.GetConfig())
	if err := loop.Start(); err != nil {
		logger.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

// newOrderService is the full wiring used when order intake runs in-process.
func newOrderService(connPool *pool.ConnectionPool) (*service.OrderService, error) {
	limits, err := risk.NewLimitsGate(risk.GetConfig())
	if err != nil {
		return nil, err
	}

	orders := repository.NewOrderRepository()
	connections := repository.NewConnectionRepository()
	leaser := service.PoolLeaser(connPool)

	reconciler := service.NewReconciler(orders, repository.NewPositionRepository(), connections, leaser)

	return service.NewOrderService(
		orders,
		repository.NewExceptionRepository(),
		connections,
		leaser,
		limits,
	).WithReconciler(reconciler), nil
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
