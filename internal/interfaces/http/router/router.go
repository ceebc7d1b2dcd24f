// Package router assembles the gin engine and the billing route groups.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIVersion is the path segment every billing route is mounted under.
const APIVersion = "v1"

// Group is the routes of one resource. Routes are collected first and
// registered by Mount, so a group with no handlers configured leaves no
// trace in the engine.
type Group struct {
	prefix     string
	middleware []gin.HandlerFunc
	routes     []route
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

func NewGroup(prefix string, middleware ...gin.HandlerFunc) *Group {
	return &Group{prefix: prefix, middleware: middleware}
}

func (g *Group) Route(method, path string, handlers ...gin.HandlerFunc) *Group {
	g.routes = append(g.routes, route{method: method, path: path, handlers: handlers})
	return g
}

func (g *Group) GET(path string, h ...gin.HandlerFunc) *Group   { return g.Route(http.MethodGet, path, h...) }
func (g *Group) POST(path string, h ...gin.HandlerFunc) *Group  { return g.Route(http.MethodPost, path, h...) }
func (g *Group) PUT(path string, h ...gin.HandlerFunc) *Group   { return g.Route(http.MethodPut, path, h...) }
func (g *Group) PATCH(path string, h ...gin.HandlerFunc) *Group { return g.Route(http.MethodPatch, path, h...) }

func (g *Group) Empty() bool { return len(g.routes) == 0 }

// Mount registers the groups under /api/<version>. Empty groups are skipped.
func Mount(engine *gin.Engine, version string, groups ...*Group) {
	api := engine.Group("/api/" + version)
	for _, g := range groups {
		if g == nil || g.Empty() {
			continue
		}
		rg := api.Group(g.prefix, g.middleware...)
		for _, r := range g.routes {
			rg.Handle(r.method, r.path, r.handlers...)
		}
	}
}
