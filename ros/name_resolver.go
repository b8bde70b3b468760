package ros

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// NameMap is a `key:=value` remapping table, keyed by the unresolved name.
type NameMap map[string]string

// qualifyNodeName splits a node name into its namespace and base name, and
// anonymizes a trailing "_" into "<name>_<pid>_<unix-ns>" the way
// roscpp/rospy do for AnonymousName-style node names. Node names must be
// path-style; a bare name with no leading "/" is treated as relative to the
// root namespace "/".
func qualifyNodeName(name string) (namespace string, nodeName string, err error) {
	if len(name) == 0 {
		return "", "", errors.New("node name must not be empty")
	}
	if strings.HasSuffix(name, "_") {
		name = fmt.Sprintf("%s%d_%d", name, os.Getpid(), time.Now().UnixNano())
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	idx := strings.LastIndex(name, "/")
	if idx == 0 {
		return "/", name[1:], nil
	}
	return name[:idx], name[idx+1:], nil
}

// nameResolver resolves topic/service/param names the way a node sees them:
// relative names are anchored to the node's namespace, private names
// ("~foo") are anchored to the node's fully qualified name, and any name
// (before or after that anchoring) present in the remapping table is
// rewritten to its mapped value.
type nameResolver struct {
	namespace string
	nodeName  string
	mapping   NameMap
}

func newNameResolver(namespace string, nodeName string, mapping NameMap) *nameResolver {
	return &nameResolver{namespace: namespace, nodeName: nodeName, mapping: mapping}
}

func (r *nameResolver) remap(name string) string {
	resolved := r.resolve(name)
	if mapped, ok := r.mapping[name]; ok {
		return r.resolve(mapped)
	}
	if mapped, ok := r.mapping[resolved]; ok {
		return r.resolve(mapped)
	}
	return resolved
}

func (r *nameResolver) resolve(name string) string {
	switch {
	case strings.HasPrefix(name, "/"):
		return name
	case strings.HasPrefix(name, "~"):
		base := r.namespace
		if base == "/" {
			return "/" + r.nodeName + "/" + name[1:]
		}
		return base + "/" + r.nodeName + "/" + name[1:]
	default:
		if r.namespace == "/" {
			return "/" + name
		}
		return r.namespace + "/" + name
	}
}
