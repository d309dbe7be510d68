package main

import (
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"

	forcePush "force_push"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: generic.API, Model: forcePush.PusherModel},
		resource.APIModel{API: sensor.API, Model: forcePush.ForceSensorModel},
		resource.APIModel{API: discovery.API, Model: forcePush.DiscoveryModel},
	)
}
