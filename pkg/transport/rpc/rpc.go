package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/silenceper/pool"
	"github.com/ugorji/go/codec"

	"github.com/danl5/gorcv/pkg/model"
)

const (
	// initial capacity of the pool
	poolInitCap = 0
	// maximum number of idle connections in the pool
	poolMaxIdle = 5
	// maximum time a connection can be idle before being closed
	poolMaxIdleTime = 15
	// maximum number of connections in the pool
	poolMaxCap = 20
)

var msgpackHandle = &codec.MsgpackHandle{WriteExt: true}

func NewRPC(logger *slog.Logger) (*RPC, error) {
	if logger == nil {
		return nil, fmt.Errorf("new rpc, logger is nil")
	}

	rpc := &RPC{
		Server: Server{
			logger: logger.With("component", "rpc server"),
		},
		Client: Client{
			logger: logger.With("component", "rpc client"),
		},
	}

	return rpc, nil
}

type RPCHandler struct {
	CmdHandler model.CommandHandler
}

func (h *RPCHandler) Handle(request *model.Request, response *model.Response) error {
	return h.CmdHandler(request, response)
}

func (h *RPCHandler) Ping(_ struct{}, reply *string) error {
	*reply = "pong"
	return nil
}

// RPC is a model.Transport over net/rpc with a msgpack codec.
type RPC struct {
	Server
	Client
}

func (r *RPC) Decode(raw any, target any) error {
	return Decode(raw, target)
}

// Decode decodes a payload received as `any`, usually a generic map produced
// by the msgpack codec, into target. Keys are matched against json tags.
func Decode(raw any, target any) error {
	decodeHook := func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t.Kind() == reflect.String && f.Kind() == reflect.Slice {
			if bytes, ok := data.([]uint8); ok {
				return string(bytes), nil
			}
		}
		if t == reflect.TypeOf(time.Time{}) && f.Kind() == reflect.String {
			return time.Parse(time.RFC3339Nano, data.(string))
		}
		return data, nil
	}

	paramCheck := func(a any) bool {
		if a == nil {
			return false
		}
		t := reflect.TypeOf(a)
		if t.Kind() == reflect.Ptr {
			return !reflect.ValueOf(a).IsNil()
		}

		return false
	}

	if !paramCheck(target) {
		return fmt.Errorf("wrong receiver for decode")
	}

	decoderConfig := &mapstructure.DecoderConfig{
		DecodeHook: decodeHook,
		TagName:    "json",
		Result:     target,
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

type Server struct {
	rpcHandler *RPCHandler
	listener   net.Listener
	closed     chan struct{}
	logger     *slog.Logger
}

// Start initiates the server to begin listening on the specified address.
func (s *Server) Start(listenAddress string, handler model.CommandHandler, serverConfig model.TransportConfig) error {
	cfg, ok := serverConfig.(*Config)
	if !ok {
		return fmt.Errorf("start server: %w", errNotConfig)
	}

	err := cfg.Validate()
	if err != nil {
		return err
	}

	s.rpcHandler = &RPCHandler{
		CmdHandler: handler,
	}

	err = s.startServer(listenAddress, s.rpcHandler, cfg)
	if err != nil {
		s.logger.Error("failed to start rpc server", "error", err.Error())
		return err
	}

	s.logger.Info("rpc server started", "listenAddress", s.listener.Addr().String())
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener, established connections finish their calls.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	close(s.closed)
	return s.listener.Close()
}

func (s *Server) startServer(listenAddress string, handler *RPCHandler, cfg *Config) error {
	tlsConfig, err := s.loadTLSConfig(cfg)
	if err != nil {
		return err
	}

	rpcServer := rpc.NewServer()
	err = rpcServer.Register(handler)
	if err != nil {
		return err
	}

	var l net.Listener
	if tlsConfig != nil {
		l, err = tls.Listen("tcp", listenAddress, tlsConfig)
	} else {
		l, err = net.Listen("tcp", listenAddress)
	}
	if err != nil {
		return err
	}
	s.listener = l
	s.closed = make(chan struct{})

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-s.closed:
					return
				default:
				}
				s.logger.Error("failed to accept rpc connection", "error", err.Error())
				continue
			}

			rpcCodec := codec.MsgpackSpecRpc.ServerCodec(conn, msgpackHandle)
			go rpcServer.ServeCodec(rpcCodec)
		}
	}()
	return nil
}

func (s *Server) loadTLSConfig(cfg *Config) (*tls.Config, error) {
	if !cfg.ServerTLS() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.ServerCert, cfg.ServerKey)
	if err != nil {
		return nil, err
	}
	config := &tls.Config{Certificates: []tls.Certificate{cert}}

	caCertPool, err := loadCertPool(cfg.ServerCAs)
	if err != nil {
		return nil, err
	}
	config.ClientCAs = caCertPool
	config.ClientAuth = tls.RequireAndVerifyClientCert
	if cfg.ServerSkipVerify {
		config.ClientAuth = tls.NoClientCert
	}

	return config, nil
}

type Client struct {
	// endpoint id to client
	// string -> pool.Pool
	clients sync.Map

	logger *slog.Logger
}

// InitConnections initializes a set of connections to the given endpoints.
// It returns an error if any connection fails.
func (c *Client) InitConnections(endpoints []*model.Endpoint, cfg model.TransportConfig) error {
	clientCfg, ok := cfg.(*Config)
	if !ok {
		return fmt.Errorf("init connections: %w", errNotConfig)
	}
	if err := clientCfg.Validate(); err != nil {
		return err
	}

	for _, endpoint := range endpoints {
		p, err := c.createClient(*endpoint, clientCfg)
		if err != nil {
			c.logger.Error("error connecting to endpoint", "endpoint", endpoint.ID, "error", err.Error())
			return err
		}
		c.clients.Store(endpoint.ID, p)
	}
	return nil
}

// SendRequest sends the command request
func (c *Client) SendRequest(endpointID string, request *model.Request, response *model.Response) error {
	clientPool, err := c.getPool(endpointID)
	if err != nil {
		return err
	}
	conn, err := clientPool.Get()
	if err != nil {
		return fmt.Errorf("can not get client from pool for endpoint %s: %s", endpointID, err.Error())
	}
	rpcClient := conn.(*rpc.Client)

	err = rpcClient.Call("RPCHandler.Handle", request, response)
	if err != nil {
		// the connection may be broken, do not reuse it
		_ = clientPool.Close(rpcClient)
		return fmt.Errorf("failed to call rpc handler: %s", err.Error())
	}
	if err := clientPool.Put(rpcClient); err != nil {
		c.logger.Error("failed to put rpc client back to pool", "error", err.Error())
	}

	c.logger.Debug("send rpc request", "command", request.CommandCode.String(), "to", endpointID)
	return nil
}

// Close releases every connection pool.
func (c *Client) Close() {
	c.clients.Range(func(key, value any) bool {
		value.(pool.Pool).Release()
		c.clients.Delete(key)
		return true
	})
}

func (c *Client) createClient(endpoint model.Endpoint, cfg *Config) (pool.Pool, error) {
	poolConfig := &pool.Config{
		InitialCap:  poolInitCap,
		MaxIdle:     poolMaxIdle,
		MaxCap:      poolMaxCap,
		IdleTimeout: poolMaxIdleTime * time.Second,
		Factory: func() (interface{}, error) {
			tlsConfig, err := c.loadTLSConfig(cfg)
			if err != nil {
				return nil, err
			}
			dialer := &net.Dialer{
				Timeout: cfg.Timeout(),
			}
			var conn net.Conn
			if tlsConfig != nil {
				conn, err = tls.DialWithDialer(dialer, "tcp", endpoint.Address, tlsConfig)
			} else {
				conn, err = dialer.Dial("tcp", endpoint.Address)
			}
			if err != nil {
				return nil, err
			}

			rpcCodec := codec.MsgpackSpecRpc.ClientCodec(conn, msgpackHandle)
			return rpc.NewClientWithCodec(rpcCodec), nil
		},
		Close: func(v interface{}) error { return v.(*rpc.Client).Close() },
		Ping: func(v interface{}) error {
			var reply string
			return v.(*rpc.Client).Call("RPCHandler.Ping", struct{}{}, &reply)
		},
	}
	return pool.NewChannelPool(poolConfig)
}

func (c *Client) getPool(endpointID string) (pool.Pool, error) {
	clientPoolInf, ok := c.clients.Load(endpointID)
	if !ok {
		return nil, fmt.Errorf("no client pool found for endpoint %s", endpointID)
	}
	return clientPoolInf.(pool.Pool), nil
}

func (c *Client) loadTLSConfig(cfg *Config) (*tls.Config, error) {
	if !cfg.ClientTLS() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
	if err != nil {
		return nil, err
	}
	config := &tls.Config{Certificates: []tls.Certificate{cert}}

	caCertPool, err := loadCertPool(cfg.ClientCAs)
	if err != nil {
		return nil, err
	}
	config.RootCAs = caCertPool
	config.InsecureSkipVerify = cfg.ClientSkipVerify

	return config, nil
}

func loadCertPool(files []string) (*x509.CertPool, error) {
	caCertPool := x509.NewCertPool()
	for _, file := range files {
		caCert, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
			return nil, fmt.Errorf("no certificates found in %s", file)
		}
	}
	return caCertPool, nil
}
