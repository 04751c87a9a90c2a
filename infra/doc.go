// Package infra holds the adapters the dispatcher runs on: stores, the MQTT
// transport, notifiers, metrics sinks and error reporting. Each subpackage
// implements interfaces declared under core/.
package infra
