// Package factory builds pluggable modules from configuration. A module is a
// type name plus a map of raw settings, decoded with json tags into the
// settings struct of the factory registered under that name.
//
// Metrics sinks are built this way:
//
//	metrics:
//	  sinks:
//	    - type: prometheus
//	    - type: influx
//	      conf: {url: "http://influx:8086", org: ops, bucket: dispatch}
//
// and registered from infra/metrics:
//
//	coremetrics.RegisterMetricsSink("influx", func(conf map[string]any) (coremetrics.MetricsSink, error) {
//	    var c struct{ URL string `json:"url"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return NewInfluxSinkWithFallback(c.URL, "", "", ""), nil
//	})
package factory
