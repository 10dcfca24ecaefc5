package kinematics

// DifferentialDriveWheelSpeeds are the left and right wheel velocities in m/s.
type DifferentialDriveWheelSpeeds struct {
	Left  float64
	Right float64
}

// DifferentialDriveWheelPositions are the left and right distances travelled
// in metres.
type DifferentialDriveWheelPositions struct {
	Left  float64
	Right float64
}

// DifferentialDriveKinematics describes a two-sided drivetrain.
type DifferentialDriveKinematics struct {
	// TrackWidth is the distance between the left and right wheels in metres.
	TrackWidth float64
}

// ToChassisSpeeds returns the chassis velocity for the given wheel speeds.
func (k DifferentialDriveKinematics) ToChassisSpeeds(w DifferentialDriveWheelSpeeds) ChassisSpeeds {
	return ChassisSpeeds{
		Vx:    (w.Left + w.Right) / 2,
		Omega: (w.Right - w.Left) / k.TrackWidth,
	}
}

// ToWheelSpeeds returns the wheel speeds that produce s. Vy is ignored.
func (k DifferentialDriveKinematics) ToWheelSpeeds(s ChassisSpeeds) DifferentialDriveWheelSpeeds {
	return DifferentialDriveWheelSpeeds{
		Left:  s.Vx - k.TrackWidth/2*s.Omega,
		Right: s.Vx + k.TrackWidth/2*s.Omega,
	}
}
