// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cjson "github.com/ava-labs/avalanchego/utils/json"
)

// DefaultCodecs maps the JSON content types to the avalanchego JSON codec
func DefaultCodecs() map[string]rpc.Codec {
	codec := cjson.NewCodec()
	return map[string]rpc.Codec{
		"application/json":               codec,
		"application/json;charset=UTF-8": codec,
	}
}

// NewHandler returns a JSON-RPC handler serving [service] under [name].
// [codecs] maps content types to codecs; DefaultCodecs is used when empty.
func NewHandler(name string, service interface{}, codecs map[string]rpc.Codec) (http.Handler, error) {
	if len(codecs) == 0 {
		codecs = DefaultCodecs()
	}
	server := rpc.NewServer()
	for contentType, codec := range codecs {
		server.RegisterCodec(codec, contentType)
	}
	return server, server.RegisterService(service, name)
}

// CreateHandlers returns a map where:
// Keys: The path extension for this VM's API
// Values: The handler for the API
func (vm *VM) CreateHandlers() (map[string]http.Handler, error) {
	handler, err := NewHandler(Name, &Service{vm}, vm.codecs)
	if err != nil {
		return nil, err
	}
	return map[string]http.Handler{
		"":         handler,
		"/health":  http.HandlerFunc(vm.serveHealth),
		"/metrics": promhttp.HandlerFor(vm.gatherer, promhttp.HandlerOpts{}),
	}, nil
}

func (vm *VM) serveHealth(w http.ResponseWriter, _ *http.Request) {
	details, err := vm.HealthCheck()
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(details); err != nil {
		vm.log.Debug("failed to write health response", "err", err)
	}
}
