// File: netflow/handler.go
// DispatcherHandler implements FeatureHandler by translating each
// mw_feature_request into a synthetic Attrib request against an
// mwsocket, per spec.md §6's "the PVM translates into synthetic
// attribute requests against specific mwsockets (or INS globals)".
// Grounded on pvm/dispatcher.Device.SocketAttribute, the same call the
// SOCKET_ATTRIBUTES ioctl uses.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package netflow

import "github.com/openxt/mwsockets-go/core/wire"

// AttributeSetter is the narrow dispatcher surface a feature-request
// translation needs; satisfied by *pvm/dispatcher.Device.
type AttributeSetter interface {
	SocketAttribute(fd wire.Handle, modify bool, attrib int32, value int64) (int64, error)
}

// DispatcherHandler is a FeatureHandler backed by a live Device: each
// request names a target mwsocket handle (or wire.Invalid for an
// INS-global attribute) and is served as a plain SocketAttribute call.
type DispatcherHandler struct {
	dev AttributeSetter
}

// NewDispatcherHandler wraps dev for use as a netflow FeatureHandler.
func NewDispatcherHandler(dev AttributeSetter) *DispatcherHandler {
	return &DispatcherHandler{dev: dev}
}

// HandleFeature implements FeatureHandler.
func (h *DispatcherHandler) HandleFeature(req FeatureRequest) FeatureResponse {
	value, err := h.dev.SocketAttribute(wire.Handle(req.Handle), req.Modify, req.Attrib, req.Value)
	if err != nil {
		return FeatureResponse{ReqID: req.ReqID, Status: -1, Value: 0}
	}
	return FeatureResponse{ReqID: req.ReqID, Status: 0, Value: value}
}
