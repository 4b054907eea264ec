package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/analytics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/assets"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/auth"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/compliance"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/httpapi"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/metrics"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/storage"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/task"
	"github.com/MarkoPoloResearchLab/portal_svc/internal/webhook"
)

const (
	commandUseName              = "server"
	commandShortDescription     = "Run the client portal server"
	commandLongDescription      = "Launch the client portal HTTP server"
	missingConfigurationMessage = "missing required configuration"
	loggerCreationErrorMessage  = "logger"
	logEventListening           = "listening"
	logEventShuttingDown        = "shutting_down"
	logFieldAddress             = "addr"

	flagNameApplicationAddress  = "app-addr"
	flagNameDatabaseDriver      = "db-driver"
	flagNameDatabaseDSN         = "db-dsn"
	flagNameAdminBearerToken    = "admin-bearer-token"
	flagNameSessionSecret       = "session-secret"
	flagNameAssetRoot           = "asset-root"
	flagNameAssetSigningSecret  = "asset-signing-secret"
	flagNamePortalRateLimit     = "portal-rate-limit"
	flagNameWebhookIntervalSecs = "webhook-interval-seconds"
	flagNameRefreshIntervalSecs = "refresh-interval-seconds"
	flagNameScanIntervalSecs    = "scan-interval-seconds"

	environmentKeyApplicationAddress  = "APP_ADDR"
	environmentKeyDatabaseDriver      = "DB_DRIVER"
	environmentKeyDatabaseDSN         = "DB_DSN"
	environmentKeyAdminBearerToken    = "ADMIN_BEARER_TOKEN"
	environmentKeySessionSecret       = "SESSION_SECRET"
	environmentKeyAssetRoot           = "ASSET_ROOT"
	environmentKeyAssetSigningSecret  = "ASSET_SIGNING_SECRET"
	environmentKeyPortalRateLimit     = "PORTAL_RATE_LIMIT"
	environmentKeyWebhookIntervalSecs = "WEBHOOK_INTERVAL_SECONDS"
	environmentKeyRefreshIntervalSecs = "REFRESH_INTERVAL_SECONDS"
	environmentKeyScanIntervalSecs    = "SCAN_INTERVAL_SECONDS"

	defaultApplicationAddress  = ":8080"
	defaultDatabaseDriver      = storage.DriverNamePostgres
	defaultAssetRoot           = "./data"
	defaultPortalRateLimit     = 120
	defaultWebhookIntervalSecs = 30
	defaultRefreshIntervalSecs = 300
	defaultScanIntervalSecs    = 3600
	portalRateLimitBurst       = 30

	schedulerNameWebhooks    = "webhook_dispatch"
	schedulerNameWidgets     = "widget_refresh"
	schedulerNameCompliance  = "compliance_scan"
	schedulerNameExpirySweep = "expiry_sweep"

	readHeaderTimeoutSeconds      = 5
	shutdownTimeoutSeconds        = 10
	unexpectedArgumentsMessage    = "unexpected command arguments"
	commandInitializationFailure  = "failed to configure command"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"

	loggerContextOpenDatabase = "open_db"
	loggerContextAssetStore   = "asset_store"
	loggerContextSessions     = "sessions"
	loggerContextServer       = "server"
	loggerContextShutdown     = "shutdown"
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	DatabaseDriver         string
	DatabaseDataSourceName string
	AdminBearerToken       string
	SessionSecret          string
	AssetRoot              string
	AssetSigningSecret     string
	PortalRateLimit        int
	WebhookInterval        time.Duration
	RefreshInterval        time.Duration
	ScanInterval           time.Duration
}

// DatabaseOpener opens a database connection using the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

type configurationFlag struct {
	environmentKey string
	flagName       string
	defaultValue   string
	usage          string
	required       bool
}

var configurationFlags = []configurationFlag{
	{environmentKeyApplicationAddress, flagNameApplicationAddress, defaultApplicationAddress, "address for the HTTP server to listen on", false},
	{environmentKeyDatabaseDriver, flagNameDatabaseDriver, defaultDatabaseDriver, "database driver (sqlite or postgres)", false},
	{environmentKeyDatabaseDSN, flagNameDatabaseDSN, "", "database connection string", true},
	{environmentKeyAdminBearerToken, flagNameAdminBearerToken, "", "bearer token required for management API access", true},
	{environmentKeySessionSecret, flagNameSessionSecret, "", "signing secret for portal session tokens", true},
	{environmentKeyAssetRoot, flagNameAssetRoot, defaultAssetRoot, "directory holding the portal asset bucket", false},
	{environmentKeyAssetSigningSecret, flagNameAssetSigningSecret, "", "signing secret for asset download URLs", true},
	{environmentKeyPortalRateLimit, flagNamePortalRateLimit, fmt.Sprintf("%d", defaultPortalRateLimit), "portal API requests per minute per client", false},
	{environmentKeyWebhookIntervalSecs, flagNameWebhookIntervalSecs, fmt.Sprintf("%d", defaultWebhookIntervalSecs), "seconds between webhook dispatch runs", false},
	{environmentKeyRefreshIntervalSecs, flagNameRefreshIntervalSecs, fmt.Sprintf("%d", defaultRefreshIntervalSecs), "seconds between widget refresh runs", false},
	{environmentKeyScanIntervalSecs, flagNameScanIntervalSecs, fmt.Sprintf("%d", defaultScanIntervalSecs), "seconds between compliance scan runs", false},
}

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	for _, flagDefinition := range configurationFlags {
		application.configurationLoader.SetDefault(flagDefinition.environmentKey, flagDefinition.defaultValue)
		commandFlags.String(flagDefinition.flagName, flagDefinition.defaultValue, flagDefinition.usage)

		if bindErr := application.bindFlag(commandFlags, flagDefinition.environmentKey, flagDefinition.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, flagDefinition.environmentKey, flagDefinition.flagName); environmentErr != nil {
			return environmentErr
		}
		if flagDefinition.required {
			if markErr := command.MarkFlagRequired(flagDefinition.flagName); markErr != nil {
				return markErr
			}
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadConfiguration() ServerConfig {
	loader := application.configurationLoader
	return ServerConfig{
		ApplicationAddress:     loader.GetString(environmentKeyApplicationAddress),
		DatabaseDriver:         strings.TrimSpace(loader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDataSourceName: strings.TrimSpace(loader.GetString(environmentKeyDatabaseDSN)),
		AdminBearerToken:       strings.TrimSpace(loader.GetString(environmentKeyAdminBearerToken)),
		SessionSecret:          strings.TrimSpace(loader.GetString(environmentKeySessionSecret)),
		AssetRoot:              strings.TrimSpace(loader.GetString(environmentKeyAssetRoot)),
		AssetSigningSecret:     strings.TrimSpace(loader.GetString(environmentKeyAssetSigningSecret)),
		PortalRateLimit:        loader.GetInt(environmentKeyPortalRateLimit),
		WebhookInterval:        time.Duration(loader.GetInt(environmentKeyWebhookIntervalSecs)) * time.Second,
		RefreshInterval:        time.Duration(loader.GetInt(environmentKeyRefreshIntervalSecs)) * time.Second,
		ScanInterval:           time.Duration(loader.GetInt(environmentKeyScanIntervalSecs)) * time.Second,
	}
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.DatabaseDataSourceName == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDSN)
	}
	if configuration.AdminBearerToken == "" {
		missingParameters = append(missingParameters, flagNameAdminBearerToken)
	}
	if configuration.SessionSecret == "" {
		missingParameters = append(missingParameters, flagNameSessionSecret)
	}
	if configuration.AssetSigningSecret == "" {
		missingParameters = append(missingParameters, flagNameAssetSigningSecret)
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig := application.loadConfiguration()
	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriver,
		DataSourceName: serverConfig.DatabaseDataSourceName,
	})
	if databaseErr != nil {
		logger.Fatal(loggerContextOpenDatabase, zap.Error(databaseErr))
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Fatal(loggerContextOpenDatabase, zap.Error(migrateErr))
	}

	assetStore, assetStoreErr := assets.NewStore(serverConfig.AssetRoot, serverConfig.AssetSigningSecret)
	if assetStoreErr != nil {
		logger.Fatal(loggerContextAssetStore, zap.Error(assetStoreErr))
	}

	sessionManager, sessionErr := auth.NewSessionManager(serverConfig.SessionSecret)
	if sessionErr != nil {
		logger.Fatal(loggerContextSessions, zap.Error(sessionErr))
	}

	metricsRegistry := prometheus.NewRegistry()
	metrics.Register(metricsRegistry)

	dispatcher := webhook.NewDispatcher(database, logger, nil, webhook.Config{})
	scanner := compliance.NewScanner(database, logger)
	refresher := analytics.NewRefresher(database, logger)
	recorder := httpapi.NewActivityRecorder(database, logger, dispatcher)

	invitationHandlers := httpapi.NewInvitationHandlers(database, logger, recorder)

	router := buildRouter(routerDependencies{
		database:           database,
		logger:             logger,
		recorder:           recorder,
		dispatcher:         dispatcher,
		scanner:            scanner,
		refresher:          refresher,
		assetStore:         assetStore,
		sessionManager:     sessionManager,
		metricsRegistry:    metricsRegistry,
		adminBearerToken:   serverConfig.AdminBearerToken,
		portalRateLimit:    serverConfig.PortalRateLimit,
		invitationHandlers: invitationHandlers,
	})

	serveContext, stopSignals := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	webhookScheduler := task.NewScheduler(schedulerNameWebhooks, serverConfig.WebhookInterval, dispatcher.DispatchDue, logger)
	refreshScheduler := task.NewScheduler(schedulerNameWidgets, serverConfig.RefreshInterval, refresher.RefreshAll, logger)
	scanScheduler := task.NewScheduler(schedulerNameCompliance, serverConfig.ScanInterval, scanner.ScanAll, logger)
	sweepScheduler := task.NewScheduler(schedulerNameExpirySweep, serverConfig.ScanInterval, func(context.Context) {
		if _, sweepErr := invitationHandlers.ExpireOverdue(); sweepErr != nil {
			logger.Error(schedulerNameExpirySweep, zap.Error(sweepErr))
		}
		if _, purgeErr := invitationHandlers.PurgeStaleLoginLinks(); purgeErr != nil {
			logger.Error(schedulerNameExpirySweep, zap.Error(purgeErr))
		}
	}, logger)

	webhookScheduler.Start(serveContext)
	refreshScheduler.Start(serveContext)
	scanScheduler.Start(serveContext)
	sweepScheduler.Start(serveContext)
	defer func() {
		webhookScheduler.Stop()
		refreshScheduler.Stop()
		scanScheduler.Stop()
		sweepScheduler.Stop()
	}()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.ListenAndServe()
	}()

	logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))

	select {
	case <-serveContext.Done():
		logger.Info(logEventShuttingDown)
		shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
		defer cancelShutdown()
		if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
			logger.Error(loggerContextShutdown, zap.Error(shutdownErr))
		}
	case serveErr := <-serverErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Fatal(loggerContextServer, zap.Error(serveErr))
		}
	}

	return nil
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
