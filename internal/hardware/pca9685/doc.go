// Package pca9685 drives the NXP PCA9685 16-channel, 12-bit PWM controller
// over I2C.
//
// Only the registers the controller needs are touched: MODE1/MODE2 for
// setup, PRE_SCALE for the PWM frequency and the LEDn_ON/OFF pairs for the
// duty cycle of each channel. Halt switches every channel fully off.
//
//	bus, err := pca9685.OpenBus("")
//	if err != nil {
//	    return err
//	}
//	dev, err := pca9685.NewI2C(bus, 0x40, 1000)
//	if err != nil {
//	    return err
//	}
//	err = dev.SetDuty(3, 0.65)
package pca9685
