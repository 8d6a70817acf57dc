package main

import (
	"github.com/spf13/cobra"

	"github.com/menta2k/capturegate"
	"github.com/menta2k/capturegate/pkg/processing"
	"github.com/menta2k/capturegate/pkg/types"
)

// exposureFlags overrides the exposure read from EXIF
type exposureFlags struct {
	fNumber      float64
	exposureTime float64
	iso          float64
}

func (e *exposureFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&e.fNumber, "fnumber", 0, "override EXIF FNumber (aperture)")
	cmd.Flags().Float64Var(&e.exposureTime, "exposure-time", 0, "override EXIF ExposureTime in seconds")
	cmd.Flags().Float64Var(&e.iso, "iso", 0, "override EXIF ISOSpeedRatings")
}

// sample returns the exposure for src: EXIF values with any overrides applied
func (e *exposureFlags) sample(src *processing.Source) types.ExposureSample {
	s, _ := capturegate.ReadExposure(src)
	if e.fNumber != 0 {
		s.FNumber = e.fNumber
	}
	if e.exposureTime != 0 {
		s.ExposureTime = e.exposureTime
	}
	if e.iso != 0 {
		s.ISOSpeed = e.iso
	}
	return s
}
