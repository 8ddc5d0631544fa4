/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/didrelay/agent/pkg/controller"
	"github.com/didrelay/agent/pkg/didcomm/common/service"
	"github.com/didrelay/agent/pkg/didcomm/messaging/service/basic"
	"github.com/didrelay/agent/pkg/didcomm/protocol/mediator"
	"github.com/didrelay/agent/pkg/didcomm/transport"
	didhttp "github.com/didrelay/agent/pkg/didcomm/transport/http"
	"github.com/didrelay/agent/pkg/didcomm/transport/quic"
	"github.com/didrelay/agent/pkg/didcomm/transport/ws"
	"github.com/didrelay/agent/pkg/framework/agent"
	"github.com/didrelay/agent/pkg/storage/leveldb"
)

const (
	configFileFlagName  = "config-file"
	configFileEnvKey    = "DIDRELAY_CONFIG_FILE"
	configFileFlagUsage = "Path of a TOML file holding flag values keyed by flag name." +
		" Flags and environment variables take precedence over the file." +
		" Alternatively, this can be set with the following environment variable: " + configFileEnvKey

	// api host flag.
	agentHostFlagName      = "api-host"
	agentHostEnvKey        = "DIDRELAY_API_HOST"
	agentHostFlagShorthand = "a"
	agentHostFlagUsage     = "Host Name:Port of the admin REST API." +
		" Alternatively, this can be set with the following environment variable: " + agentHostEnvKey

	// api token flag.
	agentTokenFlagName      = "api-token"
	agentTokenEnvKey        = "DIDRELAY_API_TOKEN" // nolint:gosec
	agentTokenFlagShorthand = "t"
	agentTokenFlagUsage     = "Check for bearer token in the authorization header (optional)." +
		" Alternatively, this can be set with the following environment variable: " + agentTokenEnvKey

	databaseTypeFlagName      = "database-type"
	databaseTypeEnvKey        = "DIDRELAY_DATABASE_TYPE"
	databaseTypeFlagShorthand = "q"
	databaseTypeFlagUsage     = "The type of database to use. Supported options: mem, leveldb." +
		" Alternatively, this can be set with the following environment variable: " + databaseTypeEnvKey

	databasePathFlagName      = "database-path"
	databasePathEnvKey        = "DIDRELAY_DATABASE_PATH"
	databasePathFlagShorthand = "p"
	databasePathFlagUsage     = "Directory of the leveldb database. Not needed if using mem." +
		" Alternatively, this can be set with the following environment variable: " + databasePathEnvKey

	databaseTimeoutFlagName  = "database-timeout"
	databaseTimeoutFlagUsage = "Total time in seconds to wait until the db is available before giving up." +
		" Default: " + databaseTimeoutDefault + " seconds." +
		" Alternatively, this can be set with the following environment variable: " + databaseTimeoutEnvKey
	databaseTimeoutEnvKey  = "DIDRELAY_DATABASE_TIMEOUT"
	databaseTimeoutDefault = "30"

	// webhook url flag.
	agentWebhookFlagName      = "webhook-url"
	agentWebhookEnvKey        = "DIDRELAY_WEBHOOK_URL"
	agentWebhookFlagShorthand = "w"
	agentWebhookFlagUsage     = "URL to send notifications to." +
		" This flag can be repeated, allowing for multiple listeners." +
		" Alternatively, this can be set with the following environment variable (in CSV format): " + agentWebhookEnvKey

	// label flag.
	agentLabelFlagName      = "agent-label"
	agentLabelEnvKey        = "DIDRELAY_LABEL"
	agentLabelFlagShorthand = "l"
	agentLabelFlagUsage     = "Label this agent presents in its invitations and requests." +
		" Alternatively, this can be set with the following environment variable: " + agentLabelEnvKey

	// log level.
	agentLogLevelFlagName  = "log-level"
	agentLogLevelEnvKey    = "DIDRELAY_LOG_LEVEL"
	agentLogLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentLogLevelEnvKey

	// log format.
	agentLogFormatFlagName  = "log-format"
	agentLogFormatEnvKey    = "DIDRELAY_LOG_FORMAT"
	agentLogFormatFlagUsage = "Log format. Possible values [text] [json]. Defaults to text if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentLogFormatEnvKey

	// outbound transport flag.
	agentOutboundTransportFlagName      = "outbound-transport"
	agentOutboundTransportEnvKey        = "DIDRELAY_OUTBOUND_TRANSPORT"
	agentOutboundTransportFlagShorthand = "o"
	agentOutboundTransportFlagUsage     = "Outbound transport type." +
		" This flag can be repeated, allowing for multiple transports." +
		" Possible values [http] [ws] [quic]. Defaults to http if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentOutboundTransportEnvKey

	agentTLSCertFileFlagName      = "tls-cert-file"
	agentTLSCertFileEnvKey        = "DIDRELAY_TLS_CERT_FILE"
	agentTLSCertFileFlagShorthand = "c"
	agentTLSCertFileFlagUsage     = "tls certificate file." +
		" Alternatively, this can be set with the following environment variable: " + agentTLSCertFileEnvKey

	agentTLSKeyFileFlagName      = "tls-key-file"
	agentTLSKeyFileEnvKey        = "DIDRELAY_TLS_KEY_FILE"
	agentTLSKeyFileFlagShorthand = "k"
	agentTLSKeyFileFlagUsage     = "tls key file." +
		" Alternatively, this can be set with the following environment variable: " + agentTLSKeyFileEnvKey

	// inbound host url flag.
	agentInboundHostFlagName      = "inbound-host"
	agentInboundHostEnvKey        = "DIDRELAY_INBOUND_HOST"
	agentInboundHostFlagShorthand = "i"
	agentInboundHostFlagUsage     = "Inbound Host Name:Port. This is used internally to start the inbound server." +
		" Values should be in `scheme@url` format, scheme being one of [http] [ws] [quic]." +
		" This flag can be repeated, allowing to configure multiple inbound transports." +
		" Alternatively, this can be set with the following environment variable: " + agentInboundHostEnvKey

	// inbound host external url flag.
	agentInboundHostExternalFlagName      = "inbound-host-external"
	agentInboundHostExternalEnvKey        = "DIDRELAY_INBOUND_HOST_EXTERNAL"
	agentInboundHostExternalFlagShorthand = "e"
	agentInboundHostExternalFlagUsage     = "Inbound Host External Name:Port and values should be in `scheme@url` format" +
		" This is the URL for the inbound server as seen externally." +
		" If not provided, then the internal inbound host will be used here." +
		" This flag can be repeated, allowing to configure multiple inbound transports." +
		" Alternatively, this can be set with the following environment variable: " + agentInboundHostExternalEnvKey

	// auto accept flag.
	agentAutoAcceptFlagName  = "auto-accept"
	agentAutoAcceptEnvKey    = "DIDRELAY_AUTO_ACCEPT"
	agentAutoAcceptFlagUsage = "Auto accept connection invitations, requests and responses." +
		" Possible values [true] [false]. Defaults to false if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentAutoAcceptEnvKey

	// auto grant mediation flag.
	agentAutoGrantFlagName  = "auto-grant-mediation"
	agentAutoGrantEnvKey    = "DIDRELAY_AUTO_GRANT_MEDIATION"
	agentAutoGrantFlagUsage = "Grant every mediation request this agent receives." +
		" Possible values [true] [false]. Defaults to false if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentAutoGrantEnvKey

	// transport return route option flag.
	agentTransportReturnRouteFlagName  = "transport-return-route"
	agentTransportReturnRouteEnvKey    = "DIDRELAY_TRANSPORT_RETURN_ROUTE"
	agentTransportReturnRouteFlagUsage = "Return route requested on every outbound message. Possible values [none] [all]." +
		" Defaults to all when the agent has no inbound transport, none otherwise." +
		" Alternatively, this can be set with the following environment variable: " + agentTransportReturnRouteEnvKey

	// pickup interval flag.
	agentPickupIntervalFlagName  = "pickup-interval"
	agentPickupIntervalEnvKey    = "DIDRELAY_PICKUP_INTERVAL"
	agentPickupIntervalFlagUsage = "Interval between batch pickups from the default mediator, for instance 30s." +
		" Pickup polling is off if not set." +
		" Alternatively, this can be set with the following environment variable: " + agentPickupIntervalEnvKey

	// session timeout flag.
	agentSessionTimeoutFlagName  = "session-timeout"
	agentSessionTimeoutEnvKey    = "DIDRELAY_SESSION_TIMEOUT"
	agentSessionTimeoutFlagUsage = "How long a reply may wait on an open transport session, for instance 5s." +
		" Alternatively, this can be set with the following environment variable: " + agentSessionTimeoutEnvKey

	httpProtocol      = "http"
	websocketProtocol = "ws"
	quicProtocol      = "quic"

	databaseTypeMemOption     = "mem"
	databaseTypeLevelDBOption = "leveldb"

	logFormatText = "text"
	logFormatJSON = "json"

	basicMessageServiceName = "basicmessage-log"
)

var (
	errMissingHost = errors.New("host not provided")
	logger         = log.New("didrelay/agent-cli")
)

type agentParameters struct {
	server                                     server
	host, label, transportReturnRoute          string
	tlsCertFile, tlsKeyFile                    string
	token                                      string
	webhookURLs, outboundTransports            []string
	inboundHostInternals, inboundHostExternals []string
	autoAccept, autoGrantMediation             bool
	pickupInterval, sessionTimeout             time.Duration
	dbParam                                    *dbParam
}

type dbParam struct {
	dbType  string
	path    string
	timeout uint64
}

// nolint:gochecknoglobals
var supportedStorageProviders = map[string]func(path string) (storage.Provider, error){
	databaseTypeMemOption: func(_ string) (storage.Provider, error) { // nolint:unparam
		return mem.NewProvider(), nil
	},
	databaseTypeLevelDBOption: func(path string) (storage.Provider, error) {
		if path == "" {
			return nil, backoff.Permanent(errors.New("leveldb requires a database path"))
		}

		return leveldb.NewProvider(path)
	},
}

type server interface {
	ListenAndServe(host string, router http.Handler, certFile, keyFile string) error
}

// HTTPServer represents an actual server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler, certFile, keyFile string) error {
	srv := &http.Server{Addr: host, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	if certFile != "" && keyFile != "" {
		return srv.ListenAndServeTLS(certFile, keyFile)
	}

	return srv.ListenAndServe()
}

// Cmd returns the Cobra start command.
func Cmd(server server) *cobra.Command {
	startCmd := createStartCMD(server)

	createFlags(startCmd)

	return startCmd
}

func createStartCMD(server server) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start an agent",
		Long:  `Start a DIDComm agent and its admin REST API`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parameters, err := getAgentParameters(cmd, server)
			if err != nil {
				return err
			}

			return startAgent(parameters)
		},
	}
}

func getAgentParameters(cmd *cobra.Command, server server) (*agentParameters, error) { //nolint:funlen,gocyclo
	s, err := newSettings(cmd)
	if err != nil {
		return nil, err
	}

	if err = setupLogging(s); err != nil {
		return nil, err
	}

	parameters := &agentParameters{server: server}

	if parameters.host, err = s.get(agentHostFlagName, agentHostEnvKey, false); err != nil {
		return nil, err
	}

	if parameters.token, err = s.get(agentTokenFlagName, agentTokenEnvKey, true); err != nil {
		return nil, err
	}

	parameters.inboundHostInternals, err = s.getAll(agentInboundHostFlagName, agentInboundHostEnvKey, true)
	if err != nil {
		return nil, err
	}

	parameters.inboundHostExternals, err = s.getAll(agentInboundHostExternalFlagName,
		agentInboundHostExternalEnvKey, true)
	if err != nil {
		return nil, err
	}

	if parameters.dbParam, err = getDBParam(s); err != nil {
		return nil, err
	}

	if parameters.label, err = s.get(agentLabelFlagName, agentLabelEnvKey, true); err != nil {
		return nil, err
	}

	if parameters.autoAccept, err = s.getBool(agentAutoAcceptFlagName, agentAutoAcceptEnvKey); err != nil {
		return nil, err
	}

	if parameters.autoGrantMediation, err = s.getBool(agentAutoGrantFlagName, agentAutoGrantEnvKey); err != nil {
		return nil, err
	}

	if parameters.webhookURLs, err = s.getAll(agentWebhookFlagName, agentWebhookEnvKey, true); err != nil {
		return nil, err
	}

	parameters.outboundTransports, err = s.getAll(agentOutboundTransportFlagName, agentOutboundTransportEnvKey, true)
	if err != nil {
		return nil, err
	}

	parameters.transportReturnRoute, err = s.get(agentTransportReturnRouteFlagName,
		agentTransportReturnRouteEnvKey, true)
	if err != nil {
		return nil, err
	}

	if parameters.tlsCertFile, err = s.get(agentTLSCertFileFlagName, agentTLSCertFileEnvKey, true); err != nil {
		return nil, err
	}

	if parameters.tlsKeyFile, err = s.get(agentTLSKeyFileFlagName, agentTLSKeyFileEnvKey, true); err != nil {
		return nil, err
	}

	parameters.pickupInterval, err = getDuration(s, agentPickupIntervalFlagName, agentPickupIntervalEnvKey)
	if err != nil {
		return nil, err
	}

	parameters.sessionTimeout, err = getDuration(s, agentSessionTimeoutFlagName, agentSessionTimeoutEnvKey)
	if err != nil {
		return nil, err
	}

	return parameters, nil
}

func getDBParam(s *settings) (*dbParam, error) {
	dbParam := &dbParam{}

	var err error

	dbParam.dbType, err = s.get(databaseTypeFlagName, databaseTypeEnvKey, false)
	if err != nil {
		return nil, err
	}

	dbParam.path, err = s.get(databasePathFlagName, databasePathEnvKey, true)
	if err != nil {
		return nil, err
	}

	dbTimeout, err := s.get(databaseTimeoutFlagName, databaseTimeoutEnvKey, true)
	if err != nil {
		return nil, err
	}

	if dbTimeout == "" || dbTimeout == "0" {
		dbTimeout = databaseTimeoutDefault
	}

	t, err := strconv.ParseUint(dbTimeout, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db timeout %s: %w", dbTimeout, err)
	}

	dbParam.timeout = t

	return dbParam, nil
}

func getDuration(s *settings, flagName, envKey string) (time.Duration, error) {
	v, err := s.get(flagName, envKey, true)
	if err != nil || v == "" {
		return 0, err
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", flagName, err)
	}

	return d, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(configFileFlagName, "", "", configFileFlagUsage)
	startCmd.Flags().StringP(agentHostFlagName, agentHostFlagShorthand, "", agentHostFlagUsage)
	startCmd.Flags().StringP(agentTokenFlagName, agentTokenFlagShorthand, "", agentTokenFlagUsage)
	startCmd.Flags().StringSliceP(agentInboundHostFlagName, agentInboundHostFlagShorthand, []string{},
		agentInboundHostFlagUsage)
	startCmd.Flags().StringSliceP(agentInboundHostExternalFlagName, agentInboundHostExternalFlagShorthand,
		[]string{}, agentInboundHostExternalFlagUsage)
	startCmd.Flags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)
	startCmd.Flags().StringP(databasePathFlagName, databasePathFlagShorthand, "", databasePathFlagUsage)
	startCmd.Flags().StringP(databaseTimeoutFlagName, "", "", databaseTimeoutFlagUsage)
	startCmd.Flags().StringSliceP(agentWebhookFlagName, agentWebhookFlagShorthand, []string{}, agentWebhookFlagUsage)
	startCmd.Flags().StringP(agentLogLevelFlagName, "", "", agentLogLevelFlagUsage)
	startCmd.Flags().StringP(agentLogFormatFlagName, "", "", agentLogFormatFlagUsage)
	startCmd.Flags().StringP(agentLabelFlagName, agentLabelFlagShorthand, "", agentLabelFlagUsage)
	startCmd.Flags().StringSliceP(agentOutboundTransportFlagName, agentOutboundTransportFlagShorthand, []string{},
		agentOutboundTransportFlagUsage)
	startCmd.Flags().StringP(agentAutoAcceptFlagName, "", "", agentAutoAcceptFlagUsage)
	startCmd.Flags().StringP(agentAutoGrantFlagName, "", "", agentAutoGrantFlagUsage)
	startCmd.Flags().StringP(agentTransportReturnRouteFlagName, "", "", agentTransportReturnRouteFlagUsage)
	startCmd.Flags().StringP(agentTLSCertFileFlagName, agentTLSCertFileFlagShorthand, "", agentTLSCertFileFlagUsage)
	startCmd.Flags().StringP(agentTLSKeyFileFlagName, agentTLSKeyFileFlagShorthand, "", agentTLSKeyFileFlagUsage)
	startCmd.Flags().StringP(agentPickupIntervalFlagName, "", "", agentPickupIntervalFlagUsage)
	startCmd.Flags().StringP(agentSessionTimeoutFlagName, "", "", agentSessionTimeoutFlagUsage)
}

func setupLogging(s *settings) error {
	logFormat, err := s.get(agentLogFormatFlagName, agentLogFormatEnvKey, true)
	if err != nil {
		return err
	}

	switch logFormat {
	case "", logFormatText:
	case logFormatJSON:
		log.Initialize(newZerologProvider(os.Stdout))
	default:
		return fmt.Errorf("log format [%s] not supported", logFormat)
	}

	logLevel, err := s.get(agentLogLevelFlagName, agentLogLevelEnvKey, true)
	if err != nil {
		return err
	}

	return setLogLevel(logLevel)
}

func setLogLevel(logLevel string) error {
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level '%s' : %w", logLevel, err)
		}

		log.SetLevel("", level)

		logger.Infof("logger level set to %s", logLevel)
	}

	return nil
}

func getOutboundTransportOpts(outboundTransports []string) ([]agent.Option, error) {
	var transports []transport.OutboundTransport

	for _, outboundTransport := range outboundTransports {
		switch outboundTransport {
		case httpProtocol:
			outbound, err := didhttp.NewOutbound(didhttp.WithOutboundHTTPClient(&http.Client{}))
			if err != nil {
				return nil, fmt.Errorf("http outbound transport initialization failed: %w", err)
			}

			transports = append(transports, outbound)
		case websocketProtocol:
			transports = append(transports, ws.NewOutbound())
		case quicProtocol:
			transports = append(transports, quic.NewOutbound())
		default:
			return nil, fmt.Errorf("outbound transport [%s] not supported", outboundTransport)
		}
	}

	if len(transports) == 0 {
		return nil, nil
	}

	return []agent.Option{agent.WithOutboundTransports(transports...)}, nil
}

func getInboundTransportOpts(inboundHostInternals, inboundHostExternals []string, certFile,
	keyFile string) ([]agent.Option, error) {
	internalHost, err := getInboundSchemeToURLMap(inboundHostInternals)
	if err != nil {
		return nil, fmt.Errorf("inbound internal host : %w", err)
	}

	externalHost, err := getInboundSchemeToURLMap(inboundHostExternals)
	if err != nil {
		return nil, fmt.Errorf("inbound external host : %w", err)
	}

	var inbounds []transport.InboundTransport

	// keep the command line order: the first inbound transport provides the advertised endpoint
	for _, schemeHost := range inboundHostInternals {
		scheme := strings.SplitN(schemeHost, "@", 2)[0]
		host := internalHost[scheme]

		var (
			inbound transport.InboundTransport
			e       error
		)

		switch scheme {
		case httpProtocol:
			inbound, e = didhttp.NewInbound(host, externalHost[scheme], certFile, keyFile)
		case websocketProtocol:
			inbound, e = ws.NewInbound(host, externalHost[scheme], certFile, keyFile)
		case quicProtocol:
			inbound, e = quic.NewInbound(host, externalHost[scheme], certFile, keyFile)
		default:
			return nil, fmt.Errorf("inbound transport [%s] not supported", scheme)
		}

		if e != nil {
			return nil, fmt.Errorf("%s inbound transport initialization failed: %w", scheme, e)
		}

		inbounds = append(inbounds, inbound)
	}

	if len(inbounds) == 0 {
		return nil, nil
	}

	return []agent.Option{agent.WithInboundTransport(inbounds...)}, nil
}

func getInboundSchemeToURLMap(schemeHostStr []string) (map[string]string, error) {
	const validSliceLen = 2

	schemeHostMap := make(map[string]string)

	for _, schemeHost := range schemeHostStr {
		schemeHostSlice := strings.SplitN(schemeHost, "@", validSliceLen)
		if len(schemeHostSlice) != validSliceLen || schemeHostSlice[0] == "" || schemeHostSlice[1] == "" {
			return nil, fmt.Errorf("invalid inbound host option: Use scheme@url to pass the option")
		}

		if _, dup := schemeHostMap[schemeHostSlice[0]]; dup {
			return nil, fmt.Errorf("inbound host option: scheme %s given more than once", schemeHostSlice[0])
		}

		schemeHostMap[schemeHostSlice[0]] = schemeHostSlice[1]
	}

	return schemeHostMap, nil
}

func validateAuthorizationBearerToken(w http.ResponseWriter, r *http.Request, token string) bool {
	actHdr := r.Header.Get("Authorization")
	expHdr := "Bearer " + token

	if subtle.ConstantTimeCompare([]byte(actHdr), []byte(expHdr)) != 1 {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Unauthorised.\n")) // nolint:gosec,errcheck

		return false
	}

	return true
}

func authorizationMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validateAuthorizationBearerToken(w, r, token) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// newBasicMessageLogger logs every basic message the agent receives.
func newBasicMessageLogger() (*basic.MessageService, error) {
	return basic.NewMessageService(basicMessageServiceName, func(msg basic.Message, ctx service.DIDCommContext) error {
		logger.Infof("basic message %s on connection %s: %s", msg.ID, ctx.ConnectionID, msg.Content)
		return nil
	})
}

func startAgent(parameters *agentParameters) error {
	if parameters.host == "" {
		return errMissingHost
	}

	a, err := createAgent(parameters)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warnf("agent close: %s", closeErr)
		}
	}()

	router, err := createRouter(a, parameters)
	if err != nil {
		return err
	}

	logger.Infof("Starting didrelay agent rest on host [%s]", parameters.host)

	handler := cors.New(
		cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodHead},
			AllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "Authorization"},
		},
	).Handler(router)

	err = parameters.server.ListenAndServe(parameters.host, handler, parameters.tlsCertFile, parameters.tlsKeyFile)
	if err != nil {
		return fmt.Errorf("failed to start didrelay agent rest on port [%s], cause:  %w", parameters.host, err)
	}

	return nil
}

func createRouter(a *agent.Agent, parameters *agentParameters) (*mux.Router, error) {
	ctx, err := a.Context()
	if err != nil {
		return nil, fmt.Errorf("failed to get agent context: %w", err)
	}

	if parameters.pickupInterval > 0 {
		if err = startPickupPoller(ctx, parameters.pickupInterval); err != nil {
			return nil, err
		}
	}

	handlers, err := controller.GetRESTHandlers(ctx, controller.WithWebhookURLs(parameters.webhookURLs...))
	if err != nil {
		return nil, fmt.Errorf("failed to get rest service api: %w", err)
	}

	router := mux.NewRouter()

	if parameters.token != "" {
		router.Use(authorizationMiddleware(parameters.token))
	}

	for _, handler := range handlers {
		router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())
	}

	return router, nil
}

type serviceProvider interface {
	Service(id string) (interface{}, error)
}

func startPickupPoller(ctx serviceProvider, interval time.Duration) error {
	svc, err := ctx.Service(mediator.Coordination)
	if err != nil {
		return fmt.Errorf("pickup poller: %w", err)
	}

	mediatorSvc, ok := svc.(*mediator.Service)
	if !ok {
		return errors.New("pickup poller: cast to mediator service failed")
	}

	if err = mediatorSvc.StartPickupPoller(interval); err != nil {
		return fmt.Errorf("pickup poller: %w", err)
	}

	logger.Infof("polling the default mediator every %s", interval)

	return nil
}

func createAgent(parameters *agentParameters) (*agent.Agent, error) {
	store, err := createStoreProvider(parameters.dbParam)
	if err != nil {
		return nil, err
	}

	basicMsgLogger, err := newBasicMessageLogger()
	if err != nil {
		return nil, err
	}

	opts := []agent.Option{
		agent.WithStoreProvider(store),
		agent.WithLabel(parameters.label),
		agent.WithAutoAccept(parameters.autoAccept),
		agent.WithAutoGrantMediation(parameters.autoGrantMediation),
		agent.WithMessageHandler(basicMsgLogger),
	}

	if parameters.transportReturnRoute != "" {
		opts = append(opts, agent.WithTransportReturnRoute(parameters.transportReturnRoute))
	}

	if parameters.sessionTimeout > 0 {
		opts = append(opts, agent.WithSessionTimeout(parameters.sessionTimeout))
	}

	inboundTransportOpts, err := getInboundTransportOpts(parameters.inboundHostInternals,
		parameters.inboundHostExternals, parameters.tlsCertFile, parameters.tlsKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to start didrelay agent on port [%s], failed to inbound transport opt : %w",
			parameters.host, err)
	}

	opts = append(opts, inboundTransportOpts...)

	outboundTransportOpts, err := getOutboundTransportOpts(parameters.outboundTransports)
	if err != nil {
		return nil, fmt.Errorf("failed to start didrelay agent on port [%s], failed to outbound transport opts : %w",
			parameters.host, err)
	}

	opts = append(opts, outboundTransportOpts...)

	a, err := agent.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start didrelay agent on port [%s], failed to initialize framework :  %w",
			parameters.host, err)
	}

	return a, nil
}

func createStoreProvider(param *dbParam) (storage.Provider, error) {
	provider, supported := supportedStorageProviders[param.dbType]
	if !supported {
		return nil, fmt.Errorf("database type not set to a valid type." +
			" run start --help to see the available options")
	}

	var store storage.Provider

	err := backoff.RetryNotify(
		func() error {
			var openErr error
			store, openErr = provider(param.path)

			return openErr
		},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), param.timeout),
		func(retryErr error, t time.Duration) {
			logger.Warnf("failed to open storage, will sleep for %s before trying again : %s", t, retryErr)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage at %s : %w", param.dbType, param.path, err)
	}

	return store, nil
}
