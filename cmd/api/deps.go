package main

import (
	"context"
	"log"
	"time"

	"finlink/internal/domain/account"
	"finlink/internal/domain/consent"
	"finlink/internal/domain/notification"
	"finlink/internal/domain/openfinance"
	"finlink/internal/infrastructure/certs"
	"finlink/internal/infrastructure/crypto"
	"finlink/internal/infrastructure/firebase"
	ofclient "finlink/internal/infrastructure/institution"
	"finlink/internal/infrastructure/postgres"
	httphandlers "finlink/internal/interfaces/http"
	"finlink/internal/shared/auth"
	"finlink/internal/shared/config"
	"finlink/internal/shared/telemetry"
)

// Dependencies holds all initialized application components. The Open Finance
// fields are nil when the capability flag is off.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	ConsentHandler      *httphandlers.ConsentHandler
	AccountHandler      *httphandlers.AccountHandler
	SyncHandler         *httphandlers.SyncHandler
	InstitutionHandler  *httphandlers.InstitutionHandler
	NotificationHandler *httphandlers.NotificationHandler

	// Auth
	JWT *auth.JWT

	// Services (for scheduler jobs)
	ConsentService *consent.Service
	SyncEngine     *openfinance.SyncEngine

	// Repositories (for the scheduler job provider)
	AccountRepo account.Repository
}

// NewDependencies initializes all application dependencies. The Open Finance
// aggregation stack is only constructed when enabled in configuration.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	deviceTokenRepo := postgres.NewDeviceTokenRepository(db)

	deps := &Dependencies{
		DB:                  db,
		NotificationHandler: httphandlers.NewNotificationHandler(deviceTokenRepo),
		JWT:                 auth.NewJWT(cfg.JWT.Secret),
	}

	if !cfg.OpenFinance.Enabled {
		log.Println("Open Finance aggregation is disabled")
		return deps, nil
	}

	// Initialize token encryption
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}
	vault := consent.NewVault(encryptor)

	// Initialize repositories
	consentRepo := postgres.NewConsentRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	syncLogRepo := postgres.NewSyncLogRepository(db)
	institutionRepo := postgres.NewInstitutionRepository(db)
	ledgerRepo := postgres.NewLedgerRepository(db)

	// Initialize realtime notifications (optional)
	var notifier notification.Notifier = notification.Noop{}
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := firebase.NewNotifier(ctx, cfg.Firebase.CredentialsFile,
			deviceTokenRepo.ListActiveTokens, deviceTokenRepo.Deactivate)
		if err != nil {
			log.Printf("Warning: Failed to initialize Firebase notifier: %v", err)
		} else {
			notifier = fcm
			log.Println("Firebase notifier initialized")
		}
	}

	// Initialize the mTLS client certificate source and institution client
	provisioner := certs.NewProvisioner(certs.Config{
		Bucket:           cfg.Certs.Bucket,
		CertObject:       cfg.Certs.CertObject,
		KeyObject:        cfg.Certs.KeyObject,
		CAObject:         cfg.Certs.CAObject,
		KeystorePath:     cfg.Certs.KeystorePath,
		KeystorePassword: cfg.Certs.KeystorePassword,
		CertPath:         cfg.Certs.CertPath,
		KeyPath:          cfg.Certs.KeyPath,
		CAPath:           cfg.Certs.CAPath,
	})
	client, err := ofclient.NewClient(ctx, provisioner)
	if err != nil {
		return nil, err
	}

	recorder := telemetry.NewRecorder()

	// Initialize domain services
	consentService := consent.NewService(consentRepo, institutionRepo, client, vault, notifier, recorder,
		consent.ServiceConfig{
			RedirectURI:      cfg.OpenFinance.RedirectURI,
			RefreshLookahead: cfg.OpenFinance.RefreshLookahead,
		})
	discovery := openfinance.NewDiscoveryService(consentService, institutionRepo, client, accountRepo)
	syncEngine := openfinance.NewSyncEngine(accountRepo, syncLogRepo, consentService, institutionRepo,
		client, ledgerRepo, notifier, recorder,
		openfinance.SyncConfig{
			PageSize:        cfg.OpenFinance.PageSize,
			DefaultLookback: time.Duration(cfg.OpenFinance.LookbackDays) * 24 * time.Hour,
			SyncInterval:    cfg.OpenFinance.SyncInterval,
		})

	deps.ConsentHandler = httphandlers.NewConsentHandler(consentService)
	deps.AccountHandler = httphandlers.NewAccountHandler(accountRepo, discovery)
	deps.SyncHandler = httphandlers.NewSyncHandler(syncEngine, accountRepo, syncLogRepo)
	deps.InstitutionHandler = httphandlers.NewInstitutionHandler(institutionRepo)
	deps.ConsentService = consentService
	deps.SyncEngine = syncEngine
	deps.AccountRepo = accountRepo

	return deps, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
