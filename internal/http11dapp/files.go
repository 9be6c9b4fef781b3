// Copyright 2023-2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package http11dapp

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"connectrpc.com/http11"
)

// fileAdapter serves a directory. Whole regular files go out through the
// transport's sendfile support when it is available; everything else is
// handled by http.FileServer.
type fileAdapter struct {
	*http11.HandlerAdapter
	root string
}

func newFileAdapter(root string, logger *slog.Logger) *fileAdapter {
	return &fileAdapter{
		HandlerAdapter: &http11.HandlerAdapter{
			Handler: http.FileServer(http.Dir(root)),
			Logger:  logger,
		},
		root: root,
	}
}

func (a *fileAdapter) Service(ctx context.Context, req *http11.Request, resp *http11.Response) error {
	if name, info, ok := a.sendfileCandidate(req); ok {
		resp.SetStatus(http.StatusOK)
		if contentType := mime.TypeByExtension(filepath.Ext(name)); contentType != "" {
			resp.SetContentType(contentType)
		}
		resp.SetHeader("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
		resp.SetHeader("Accept-Ranges", "bytes")
		req.SetAttribute(http11.AttrSendfileFilename, name)
		req.SetAttribute(http11.AttrSendfileStart, int64(0))
		req.SetAttribute(http11.AttrSendfileEnd, info.Size())
		a.Log(req, resp, 0)
		return nil
	}
	return a.HandlerAdapter.Service(ctx, req, resp)
}

func (a *fileAdapter) sendfileCandidate(req *http11.Request) (string, os.FileInfo, bool) {
	if req.Method() != http.MethodGet {
		return "", nil, false
	}
	value, _ := req.Attribute(http11.AttrSendfileSupported)
	if supported, _ := value.(bool); !supported {
		return "", nil, false
	}
	if req.Header("range") != "" || req.Header("if-modified-since") != "" {
		return "", nil, false
	}
	name := filepath.Join(a.root, filepath.FromSlash(path.Clean("/"+req.Path())))
	info, err := os.Stat(name)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return "", nil, false
	}
	return name, info, true
}
