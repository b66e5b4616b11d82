package linker

// Ids of the runtime modules injected by the splitter. They are always
// exposed.
const (
	ExposerID = "roller/runtime/exposer"
	LoaderID  = "roller/runtime/async_loader"
	RoutesID  = "roller/runtime/bundles"
)

// Prelude is the default runtime wrapping the module table. It is called
// with the module table, a cache and the list of entries and returns the
// require function of the chunk.
//
// A require miss is handed to the async loader if one is reachable, then to
// the require defined before this chunk was loaded.
const Prelude = `function(modules, cache, entries) {
  var previousRequire = typeof require === "function" && require;
  var asyncLoader = null;

  function notFound(name) {
    var err = new Error("Cannot find module '" + name + "'");
    err.code = "MODULE_NOT_FOUND";
    return err;
  }

  function loader() {
    if (asyncLoader === null) {
      asyncLoader = false;
      if (modules["` + LoaderID + `"]) {
        asyncLoader = newRequire("` + LoaderID + `");
      } else if (previousRequire) {
        try {
          asyncLoader = previousRequire("` + LoaderID + `");
        } catch (e) {
          asyncLoader = false;
        }
      }
    }
    return asyncLoader;
  }

  function newRequire(name) {
    if (!cache[name]) {
      if (!modules[name]) {
        var l = loader();
        if (l) return l.require(name);
        if (previousRequire) return previousRequire(name);
        throw notFound(name);
      }
      var deps = modules[name][1];
      var m = cache[name] = {exports: {}};
      modules[name][0].call(m.exports, function(x) {
        return newRequire(deps[x] || x);
      }, m, m.exports, function(x, cb) {
        var l = loader();
        if (!l) return cb(notFound(x));
        l.require_async(deps[x] || x, cb);
      });
    }
    return cache[name].exports;
  }

  newRequire.defines = function(name) {
    return Object.prototype.hasOwnProperty.call(modules, name);
  };

  var l = loader();
  if (l) l.bundleLoaded(newRequire);
  for (var i = 0; i < entries.length; i++) {
    newRequire(entries[i]);
  }
  return newRequire;
}`

// LoaderSource is the source of the async loader module. It depends on the
// routing table module and keeps the require of every loaded chunk.
const LoaderSource = `var routes = require("` + RoutesID + `");
var loaded = {bootstrap: true};
var pending = {};
var requires = [];

var loader = module.exports = {
  require: function(id) {
    for (var i = requires.length - 1; i >= 0; i--) {
      if (requires[i].defines(id)) return requires[i](id);
    }
    var err = new Error("Cannot find module '" + id + "'");
    err.code = "MODULE_NOT_FOUND";
    throw err;
  },

  url: function(bundle) {
    return bundle + ".js";
  },

  fetch: function(src, callback) {
    var script = document.createElement("script");
    script.async = true;
    script.onload = function() { callback(null); };
    script.onerror = function() { callback(new Error("failed to load " + src)); };
    script.src = src;
    document.head.appendChild(script);
  },

  require_async: function(id, callback) {
    var bundle = routes[id];
    if (!bundle) {
      return callback(new Error("no known bundle with " + id + " module defined"));
    }
    var done = function(err) {
      if (err) return callback(err);
      var exports;
      try {
        exports = loader.require(id);
      } catch (e) {
        return callback(e);
      }
      callback(null, exports);
    };
    if (loaded[bundle]) return done(null);
    if (pending[bundle]) return pending[bundle].push(done);
    pending[bundle] = [done];
    loader.fetch(loader.url(bundle), function(err) {
      var callbacks = pending[bundle];
      delete pending[bundle];
      if (!err) loaded[bundle] = true;
      for (var i = 0; i < callbacks.length; i++) callbacks[i](err);
    });
  },

  bundleLoaded: function(newRequire) {
    requires.push(newRequire);
  }
};
`

// ExposerSource publishes the require of the chunk on the global object.
const ExposerSource = `var global = typeof window !== "undefined" ? window : Function("return this")();
global.require = require;
`
