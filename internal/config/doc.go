// Package config loads hmr.json, the dev server's project configuration.
//
// # Configuration File Structure
//
//	{
//	  "name": "my-app",
//	  "dev": {
//	    "host": "localhost",
//	    "port": 3000,
//	    "manifest": "dist/hmr-manifest.json",
//	    "poll": "250ms"
//	  },
//	  "runtime": {
//	    "version": "2f1c9a",
//	    "refresh": "react-refresh/runtime.js",
//	    "console": true,
//	    "separateSSRGraph": false
//	  },
//	  "history": {
//	    "backend": "disk",
//	    "dir": ".hmr/history",
//	    "limit": 200
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Listening on", cfg.DevAddress())
package config
